// Package rssfeed implements the rssfeed Monitor: polls an RSS or Atom
// feed URL (including YouTube channel URLs, resolved to their video feed)
// and emits one record per entry, deduped against the record store.
package rssfeed

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/monitor"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "rssfeed",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the rssfeed actor's top-level settings.
type Config struct {
	Name string `yaml:"name" validate:"required"`
}

// Entity is one feed to poll.
type Entity struct {
	Name           string            `yaml:"name" validate:"required"`
	URL            string            `yaml:"url" validate:"required,url"`
	UpdateInterval int               `yaml:"update_interval"`
	QuietStart     bool              `yaml:"quiet_start"`
	QuietFirstTime bool              `yaml:"quiet_first_time"`
	CookiesFile    string            `yaml:"cookies_file"`
	Headers        map[string]string `yaml:"headers"`
}

// Monitor polls a set of RSS/Atom feeds.
type Monitor struct {
	feed *monitor.BaseFeedMonitor
	name string
}

// New constructs the rssfeed Monitor from its structural config/entities.
func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.rssfeed.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	entities := make([]*monitor.BaseFeedMonitorEntity, len(rawEntities))
	for i, raw := range rawEntities {
		// Default to quiet on an entity's first-ever poll so a freshly added
		// feed primes the store instead of replaying its whole backlog.
		if _, ok := raw["quiet_first_time"]; !ok {
			raw["quiet_first_time"] = true
		}
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.rssfeed.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		interval := time.Duration(e.UpdateInterval) * time.Second
		if interval <= 0 {
			interval = 15 * time.Minute
		}

		be := monitor.NewHttpTaskMonitorEntity(e.Name, interval)
		be.CookiesFile = e.CookiesFile
		for k, v := range e.Headers {
			be.Headers[k] = v
		}

		entities[i] = &monitor.BaseFeedMonitorEntity{
			HttpTaskMonitorEntity: *be,
			URL:                   e.URL,
			QuietStart:            e.QuietStart,
			QuietFirstTime:        e.QuietFirstTime,
		}
	}

	m := &Monitor{name: cfg.Name}
	m.feed = monitor.NewBaseFeedMonitor(rt, controller, cfg.Name, db, entities, fetchFeedRecords, recordID)
	return m, nil
}

func (m *Monitor) Name() string { return m.name }

// Start primes the record store and begins polling.
func (m *Monitor) Start(ctx context.Context) error { return m.feed.Start(ctx) }

// fetchFeedRecords resolves YouTube channel URLs, fetches and parses the
// feed, and returns one record per entry. BaseFeedMonitor is responsible
// for filtering out entries already seen.
func fetchFeedRecords(ctx context.Context, entity *monitor.BaseFeedMonitorEntity, client *http.Client) ([]record.Record, error) {
	feedURL, err := resolveYouTubeFeed(ctx, client, entity.URL)
	if err != nil {
		return nil, err
	}

	f, err := fetchFeed(ctx, client, feedURL, entity.Headers)
	if err != nil {
		return nil, err
	}

	records := make([]record.Record, 0, len(f.Entries))
	for _, e := range f.Entries {
		rec := record.NewGeneric("RSSFeedRecord", map[string]any{
			"guid":       e.ID,
			"title":      e.Title,
			"link":       e.Link,
			"published":  e.Published,
			"feed_title": f.Title,
		})
		rec.IDField = "guid"
		records = append(records, rec)
	}
	return records, nil
}

func recordID(rec record.Record) string {
	return rec.UID()
}
