// Package httpjson implements the httpjson Monitor: polls an arbitrary
// JSON HTTP endpoint and emits one record per element of a configured
// array path, extracting fields by gjson path rather than a fixed schema.
package httpjson

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/httpkit"
	"github.com/nugget/waymark/internal/monitor"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "httpjson",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the httpjson actor's top-level settings.
type Config struct {
	Name string `yaml:"name" validate:"required"`
}

// Entity is one JSON endpoint to poll.
type Entity struct {
	Name           string            `yaml:"name" validate:"required"`
	URL            string            `yaml:"url" validate:"required,url"`
	UpdateInterval int               `yaml:"update_interval"`
	ItemsPath      string            `yaml:"items_path" validate:"required"` // gjson path to the array of items
	IDField        string            `yaml:"id_field"`                       // gjson path, relative to each item
	QuietStart     bool              `yaml:"quiet_start"`
	QuietFirstTime bool              `yaml:"quiet_first_time"`
	Headers        map[string]string `yaml:"headers"`
}

// Monitor polls a set of JSON endpoints.
type Monitor struct {
	feed *monitor.BaseFeedMonitor
	name string
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.httpjson.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	extraction := make(map[string]entityExtraction, len(rawEntities))
	entities := make([]*monitor.BaseFeedMonitorEntity, len(rawEntities))
	for i, raw := range rawEntities {
		// Default to quiet on an entity's first-ever poll so a freshly added
		// endpoint primes the store instead of replaying its whole backlog.
		if _, ok := raw["quiet_first_time"]; !ok {
			raw["quiet_first_time"] = true
		}
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.httpjson.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		interval := time.Duration(e.UpdateInterval) * time.Second
		if interval <= 0 {
			interval = 10 * time.Minute
		}

		be := monitor.NewHttpTaskMonitorEntity(e.Name, interval)
		for k, v := range e.Headers {
			be.Headers[k] = v
		}
		extraction[e.Name] = entityExtraction{itemsPath: e.ItemsPath, idField: e.IDField}

		entities[i] = &monitor.BaseFeedMonitorEntity{
			HttpTaskMonitorEntity: *be,
			URL:                   e.URL,
			QuietStart:            e.QuietStart,
			QuietFirstTime:        e.QuietFirstTime,
		}
	}

	fetchJSON := func(ctx context.Context, entity *monitor.BaseFeedMonitorEntity, client *http.Client) ([]record.Record, error) {
		ex := extraction[entity.Name]
		return fetchRecords(ctx, client, entity, ex)
	}

	m := &Monitor{name: cfg.Name}
	m.feed = monitor.NewBaseFeedMonitor(rt, controller, cfg.Name, db, entities, fetchJSON, recordID)
	return m, nil
}

func (m *Monitor) Name() string { return m.name }

// Start primes the record store and begins polling.
func (m *Monitor) Start(ctx context.Context) error { return m.feed.Start(ctx) }

type entityExtraction struct {
	itemsPath string
	idField   string
}

func fetchRecords(ctx context.Context, client *http.Client, entity *monitor.BaseFeedMonitorEntity, ex entityExtraction) ([]record.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entity.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range entity.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch endpoint: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	items := gjson.GetBytes(body, ex.itemsPath)
	if !items.Exists() || !items.IsArray() {
		return nil, fmt.Errorf("items path %q did not resolve to an array", ex.itemsPath)
	}

	var records []record.Record
	items.ForEach(func(_, item gjson.Result) bool {
		values := map[string]any{}
		item.ForEach(func(key, val gjson.Result) bool {
			values[key.String()] = val.Value()
			return true
		})

		rec := record.NewGeneric("HTTPJSONRecord", values)
		if ex.idField != "" {
			if id := item.Get(ex.idField); id.Exists() {
				rec.Values["_id"] = id.String()
				rec.IDField = "_id"
			}
		}
		records = append(records, rec)
		return true
	})

	return records, nil
}

func recordID(rec record.Record) string { return rec.UID() }
