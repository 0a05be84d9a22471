// Package execute implements the execute Action: runs a shell command
// templated from each incoming record's fields, subject to the same
// allow/deny-pattern and timeout safety policy the teacher's subprocess
// tool enforced.
package execute

import (
	"bytes"
	"context"
	"reflect"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
	"github.com/nugget/waymark/internal/tools"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "execute",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the execute actor's top-level safety policy, shared by every
// entity's command.
type Config struct {
	Name           string   `yaml:"name" validate:"required"`
	WorkingDir     string   `yaml:"working_dir"`
	AllowedCmds    []string `yaml:"allowed_commands"`
	DeniedCmds     []string `yaml:"denied_commands"`
	DefaultTimeout int      `yaml:"default_timeout_seconds"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
}

// Entity is one command template to run per matching record.
type Entity struct {
	actorkit.EntityBase
	Name    string `yaml:"name" validate:"required"`
	Command string `yaml:"command" validate:"required"`
	Timeout int    `yaml:"timeout_seconds"`
}

// Action runs a templated shell command for every record it receives.
type Action struct {
	*actorkit.Action
	shell  *tools.ShellExec
	byName map[string]entityCommand
	logger zerolog.Logger
}

type entityCommand struct {
	tmpl    *template.Template
	timeout int
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.execute.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	logger := rt.Logger.With().Str("actor", cfg.Name).Logger()

	shellCfg := tools.DefaultShellExecConfig()
	shellCfg.Enabled = true
	shellCfg.WorkingDir = cfg.WorkingDir
	shellCfg.Logger = logger
	if len(cfg.AllowedCmds) > 0 {
		shellCfg.AllowedCmds = cfg.AllowedCmds
	}
	if len(cfg.DeniedCmds) > 0 {
		shellCfg.DeniedCmds = append(shellCfg.DeniedCmds, cfg.DeniedCmds...)
	}
	if cfg.DefaultTimeout > 0 {
		shellCfg.DefaultTimeout = time.Duration(cfg.DefaultTimeout) * time.Second
	}
	if cfg.MaxOutputBytes > 0 {
		shellCfg.MaxOutputBytes = cfg.MaxOutputBytes
	}

	byName := make(map[string]entityCommand, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.execute.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		tmpl, err := template.New(e.Name).Parse(e.Command)
		if err != nil {
			return nil, err
		}

		entities[e.Name] = e.EntityBase
		byName[e.Name] = entityCommand{tmpl: tmpl, timeout: e.Timeout}
	}

	a := &Action{
		shell:  tools.NewShellExec(shellCfg),
		byName: byName,
		logger: logger,
	}
	a.Action = actorkit.NewAction(rt, cfg.Name, entities, a.handle)
	return a, nil
}

func (a *Action) handle(entity string, rec record.Record) {
	ec, ok := a.byName[entity]
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ec.tmpl.Execute(&buf, map[string]any{
		"Text":      rec.Text(),
		"ShortText": rec.ShortText(),
		"Origin":    rec.Origin(),
		"Fields":    rec.Fields(),
	}); err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("execute: command template failed")
		return
	}

	result, err := a.shell.Exec(context.Background(), buf.String(), ec.timeout)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("execute: command rejected")
		return
	}

	logEvent := a.logger.Info()
	if result.ExitCode != 0 || result.TimedOut {
		logEvent = a.logger.Warn()
	}
	logEvent.Str("entity", entity).Int("exit_code", result.ExitCode).
		Bool("timed_out", result.TimedOut).Msg("execute: command finished")
}
