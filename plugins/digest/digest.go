// Package digest implements the digest Action: renders each incoming
// record through a Go text/template into a Markdown snippet, converts it
// to HTML with goldmark, and appends it to a per-entity digest file under
// a confined output directory.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"text/template"

	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
	"github.com/nugget/waymark/internal/tools"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "digest",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// defaultTemplate renders a record as one Markdown list item.
const defaultTemplate = `- **{{.Text}}** ({{.Origin}}, {{.CreatedAt.Format "2006-01-02 15:04"}})
`

// Config is the digest actor's top-level settings: the directory every
// entity's output file is confined to.
type Config struct {
	Name      string `yaml:"name" validate:"required"`
	OutputDir string `yaml:"output_dir" validate:"required"`
}

// Entity is one rendered digest file.
type Entity struct {
	actorkit.EntityBase
	Name     string `yaml:"name" validate:"required"`
	File     string `yaml:"file" validate:"required"`
	Template string `yaml:"template"`
	AsHTML   bool   `yaml:"as_html"`
}

// Action appends a rendered Markdown (or HTML) snippet to each entity's
// digest file on every record it receives.
type Action struct {
	*actorkit.Action
	files  map[string]entityFiles
	fs     *tools.FileTools
	logger zerolog.Logger
}

type entityFiles struct {
	path string
	tmpl *template.Template
	html bool
}

// templateData is the view a record is rendered through.
type templateData struct {
	Text      string
	ShortText string
	Origin    string
	CreatedAt interface{ Format(string) string }
	Fields    map[string]any
}

// New constructs the digest Action from its structural config/entities.
func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.digest.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	files := make(map[string]entityFiles, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.digest.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		tmplSrc := e.Template
		if tmplSrc == "" {
			tmplSrc = defaultTemplate
		}
		tmpl, err := template.New(e.Name).Parse(tmplSrc)
		if err != nil {
			return nil, fmt.Errorf("digest: parse template for entity %q: %w", e.Name, err)
		}

		entities[e.Name] = e.EntityBase
		files[e.Name] = entityFiles{path: e.File, tmpl: tmpl, html: e.AsHTML}
	}

	a := &Action{
		files:  files,
		fs:     tools.NewFileTools(cfg.OutputDir, nil),
		logger: rt.Logger.With().Str("actor", cfg.Name).Logger(),
	}
	a.Action = actorkit.NewAction(rt, cfg.Name, entities, a.handle)
	return a, nil
}

func (a *Action) handle(entity string, rec record.Record) {
	ef, ok := a.files[entity]
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ef.tmpl.Execute(&buf, templateData{
		Text:      rec.Text(),
		ShortText: rec.ShortText(),
		Origin:    rec.Origin(),
		CreatedAt: rec.CreatedAt(),
		Fields:    rec.Fields(),
	}); err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("digest template execution failed")
		return
	}

	snippet := buf.String()
	if ef.html {
		var rendered bytes.Buffer
		if err := goldmark.Convert(buf.Bytes(), &rendered); err != nil {
			a.logger.Warn().Str("entity", entity).Err(err).Msg("digest markdown conversion failed")
		} else {
			snippet = rendered.String()
		}
	}

	if err := a.fs.Append(context.Background(), ef.path, snippet); err != nil {
		a.logger.Warn().Str("entity", entity).Str("file", ef.path).Err(err).Msg("digest append failed")
	}
}
