// Package webhooknotify implements the webhooknotify Action: POSTs each
// record it receives as JSON to a configured webhook URL, tagging every
// delivery with a unique ID for the receiver's own dedup.
package webhooknotify

import (
	"bytes"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/httpkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "webhooknotify",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the webhooknotify actor's top-level settings.
type Config struct {
	Name           string `yaml:"name" validate:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Entity is one webhook URL to deliver to.
type Entity struct {
	actorkit.EntityBase
	Name    string            `yaml:"name" validate:"required"`
	URL     string            `yaml:"url" validate:"required,url"`
	Headers map[string]string `yaml:"headers"`
}

// Action delivers incoming records to webhook URLs.
type Action struct {
	*actorkit.Action
	client *http.Client
	byName map[string]Entity
	logger zerolog.Logger
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.webhooknotify.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	byName := make(map[string]Entity, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.webhooknotify.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		byName[e.Name] = *e
		entities[e.Name] = e.EntityBase
	}

	a := &Action{
		client: httpkit.NewClient(httpkit.WithTimeout(timeout), httpkit.WithLogger(rt.Logger)),
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

	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewBufferString(rec.AsJSON()))
	if err != nil {
		a.logger.Warn().Str("entity", entity).Err(err).Msg("webhooknotify: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn().Str("entity", entity).Str("url", cfg.URL).Err(err).Msg("webhooknotify: delivery failed")
		return
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		a.logger.Warn().Str("entity", entity).Str("url", cfg.URL).Int("status", resp.StatusCode).Msg("webhooknotify: webhook rejected delivery")
	}
}
