// Package webpage implements the webpage Monitor: fetches a URL on a
// schedule, extracts its readable text, and emits a record whenever the
// extracted content's hash differs from what was last seen.
package webpage

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"net/http"
	"reflect"
	"time"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/fetch"
	"github.com/nugget/waymark/internal/monitor"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "webpage",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the webpage actor's top-level settings.
type Config struct {
	Name string `yaml:"name" validate:"required"`
}

// Entity is one page to poll.
type Entity struct {
	Name           string            `yaml:"name" validate:"required"`
	URL            string            `yaml:"url" validate:"required,url"`
	UpdateInterval int               `yaml:"update_interval"`
	QuietStart     bool              `yaml:"quiet_start"`
	QuietFirstTime bool              `yaml:"quiet_first_time"`
	MaxChars       int               `yaml:"max_chars"`
	CookiesFile    string            `yaml:"cookies_file"`
	Headers        map[string]string `yaml:"headers"`
}

// Monitor polls a set of web pages for content changes.
type Monitor struct {
	feed *monitor.BaseFeedMonitor
	name string
}

// New constructs the webpage Monitor from its structural config/entities.
func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.webpage.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	maxChars := make(map[string]int, len(rawEntities))
	entities := make([]*monitor.BaseFeedMonitorEntity, len(rawEntities))
	for i, raw := range rawEntities {
		// Default to quiet on an entity's first-ever poll so a freshly added
		// page primes the store instead of emitting its current content as new.
		if _, ok := raw["quiet_first_time"]; !ok {
			raw["quiet_first_time"] = true
		}
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.webpage.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		interval := time.Duration(e.UpdateInterval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Minute
		}

		be := monitor.NewHttpTaskMonitorEntity(e.Name, interval)
		be.CookiesFile = e.CookiesFile
		for k, v := range e.Headers {
			be.Headers[k] = v
		}
		maxChars[e.Name] = e.MaxChars

		entities[i] = &monitor.BaseFeedMonitorEntity{
			HttpTaskMonitorEntity: *be,
			URL:                   e.URL,
			QuietStart:            e.QuietStart,
			QuietFirstTime:        e.QuietFirstTime,
		}
	}

	fetcher := fetch.New()
	fetchPage := func(ctx context.Context, entity *monitor.BaseFeedMonitorEntity, client *http.Client) ([]record.Record, error) {
		result, err := fetcher.Fetch(ctx, entity.URL, maxChars[entity.Name])
		if err != nil {
			return nil, err
		}
		rec := record.NewGeneric("WebPageRecord", map[string]any{
			"url":         result.URL,
			"title":       result.Title,
			"content":     result.Content,
			"status_code": result.StatusCode,
		})
		return []record.Record{rec}, nil
	}

	m := &Monitor{name: cfg.Name}
	// contentID is a content hash, not a source-stable ID: a page has no
	// natural identity beyond its URL, which is already the entity scope,
	// so a changed body is what makes a "new" record here. This must NOT
	// be rec.Hash() — that also folds in CreatedAt, which is fresh on
	// every poll regardless of whether the page changed, and would make
	// every poll look new.
	m.feed = monitor.NewBaseFeedMonitor(rt, controller, cfg.Name, db, entities, fetchPage, contentID)
	return m, nil
}

func (m *Monitor) Name() string { return m.name }

// Start primes the record store and begins polling.
func (m *Monitor) Start(ctx context.Context) error { return m.feed.Start(ctx) }

// contentID hashes a WebPageRecord's title and body, ignoring CreatedAt,
// so identity tracks content rather than the moment it was fetched.
func contentID(rec record.Record) string {
	fields := rec.Fields()
	title, _ := fields["title"].(string)
	content, _ := fields["content"].(string)
	sum := sha1.Sum([]byte(title + "\x00" + content)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
