// Package qrcode implements the qrcode Action: writes a PNG QR code of a
// record's URL to a confined output directory, named after the record's
// UID.
package qrcode

import (
	"context"
	"path/filepath"
	"reflect"

	"github.com/rs/zerolog"
	goqr "github.com/skip2/go-qrcode"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
	"github.com/nugget/waymark/internal/tools"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "qrcode",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the qrcode actor's top-level settings: the directory every
// entity's images are confined to.
type Config struct {
	Name      string `yaml:"name" validate:"required"`
	OutputDir string `yaml:"output_dir" validate:"required"`
}

// Entity is one QR code destination.
type Entity struct {
	actorkit.EntityBase
	Name     string `yaml:"name" validate:"required"`
	URLField string `yaml:"url_field"` // Fields key holding the URL; "" falls back to Text()
	Subdir   string `yaml:"subdir"`
	Size     int    `yaml:"size"`
}

// Action renders the URL named by each incoming record as a PNG QR code.
type Action struct {
	*actorkit.Action
	fs     *tools.FileTools
	byName map[string]Entity
	logger zerolog.Logger
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.qrcode.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	byName := make(map[string]Entity, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.qrcode.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		if e.Size <= 0 {
			e.Size = 256
		}
		byName[e.Name] = *e
		entities[e.Name] = e.EntityBase
	}

	a := &Action{
		fs:     tools.NewFileTools(cfg.OutputDir, nil),
		byName: byName,
		logger: rt.Logger.With().Str("actor", cfg.Name).Logger(),
	}
	a.Action = actorkit.NewAction(rt, cfg.Name, entities, a.handle)
	return a, nil
}

func (a *Action) handle(entity string, rec record.Record) {
	cfg, ok := a.byName[entity]
	if !ok {
		return
	}

	url := rec.Text()
	if cfg.URLField != "" {
		if v, ok := rec.Fields()[cfg.URLField]; ok {
			if s, ok := v.(string); ok {
				url = s
			}
		}
	}
	if url == "" {
		return
	}

	png, err := goqr.Encode(url, goqr.Medium, cfg.Size)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("qrcode: encode failed")
		return
	}

	name := filepath.Join(cfg.Subdir, rec.UID()+".png")
	if err := a.fs.Write(context.Background(), name, string(png)); err != nil {
		a.logger.Warn().Str("entity", entity).Str("file", name).Err(err).Msg("qrcode: write failed")
		return
	}

	a.logger.Info().Str("entity", entity).Str("file", name).Msg("qrcode: saved")
}
