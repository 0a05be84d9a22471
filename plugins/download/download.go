// Package download implements the download Action: fetches the URL named
// by a configured record field and saves it under a confined directory,
// named after the record's UID.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/httpkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
	"github.com/nugget/waymark/internal/tools"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "download",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the download actor's top-level settings: the directory every
// entity's downloads are confined to.
type Config struct {
	Name      string `yaml:"name" validate:"required"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	MaxBytes  int64  `yaml:"max_bytes"`
}

// Entity is one download destination.
type Entity struct {
	actorkit.EntityBase
	Name     string `yaml:"name" validate:"required"`
	URLField string `yaml:"url_field"` // Fields key holding the URL; "" falls back to Text()
	Subdir   string `yaml:"subdir"`
}

// Action downloads the URL named by each incoming record to disk.
type Action struct {
	*actorkit.Action
	client   *http.Client
	fs       *tools.FileTools
	byName   map[string]Entity
	maxBytes int64
	logger   zerolog.Logger
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.download.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 100 << 20 // 100MB
	}

	byName := make(map[string]Entity, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.download.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		byName[e.Name] = *e
		entities[e.Name] = e.EntityBase
	}

	a := &Action{
		client:   httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute)),
		fs:       tools.NewFileTools(cfg.OutputDir, nil),
		byName:   byName,
		maxBytes: maxBytes,
		logger:   rt.Logger.With().Str("actor", cfg.Name).Logger(),
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("download: build request failed")
		return
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Str("url", url).Err(err).Msg("download: request failed")
		return
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		a.logger.Warn().Str("entity", entity).Str("url", url).Int("status", resp.StatusCode).Msg("download: non-200 response")
		return
	}

	name := filepath.Join(cfg.Subdir, rec.UID()+filepath.Ext(url))
	n, err := a.save(ctx, name, resp.Body)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Str("url", url).Err(err).Msg("download: save failed")
		return
	}

	a.logger.Info().Str("entity", entity).Str("file", name).
		Str("size", humanize.Bytes(uint64(n))).Msg("download: saved")
}

// save streams body to name, confined within the actor's output directory
// and capped at maxBytes.
func (a *Action) save(ctx context.Context, name string, body io.Reader) (int64, error) {
	limited := io.LimitReader(body, a.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return 0, err
	}
	if int64(len(data)) > a.maxBytes {
		return 0, fmt.Errorf("download exceeds max size of %s", humanize.Bytes(uint64(a.maxBytes)))
	}

	if err := a.fs.Write(ctx, name, string(data)); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
