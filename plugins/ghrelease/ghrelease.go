// Package ghrelease implements the ghrelease Monitor: polls a GitHub
// repository's releases and emits one record per release, walking back
// through continuation pages while every release on a page is new.
package ghrelease

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/monitor"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "ghrelease",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the ghrelease actor's top-level settings: the API token and
// optional Enterprise base URL shared by every repo it watches.
type Config struct {
	Name    string `yaml:"name" validate:"required"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// Entity is one repository to watch.
type Entity struct {
	Name                 string `yaml:"name" validate:"required"`
	Repo                 string `yaml:"repo" validate:"required"` // owner/name
	UpdateInterval       int    `yaml:"update_interval"`
	IncludePrereleases   bool   `yaml:"include_prereleases"`
	MaxContinuationDepth int    `yaml:"max_continuation_depth"`
}

// Monitor polls GitHub releases for a set of repositories.
type Monitor struct {
	feed *monitor.PagedFeedMonitor
	name string
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.ghrelease.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	prereleases := make(map[string]bool, len(rawEntities))
	entities := make([]*monitor.PagedFeedMonitorEntity, len(rawEntities))
	for i, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.ghrelease.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)

		interval := time.Duration(e.UpdateInterval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Minute
		}

		pe := monitor.NewPagedFeedMonitorEntity(e.Name, e.Repo, interval)
		if e.MaxContinuationDepth > 0 {
			pe.MaxContinuationDepth = e.MaxContinuationDepth
		}
		prereleases[e.Name] = e.IncludePrereleases

		entities[i] = pe
	}

	lister := &releaseLister{client: client, includePrerelease: prereleases}

	m := &Monitor{name: cfg.Name}
	m.feed = monitor.NewPagedFeedMonitor(rt, controller, cfg.Name, db, entities, lister.first, lister.next, recordID)
	return m, nil
}

func (m *Monitor) Name() string { return m.name }

// Start primes the record store and begins polling.
func (m *Monitor) Start(ctx context.Context) error { return m.feed.Start(ctx) }

type releaseLister struct {
	client            *github.Client
	includePrerelease map[string]bool
}

func (l *releaseLister) first(ctx context.Context, entity *monitor.PagedFeedMonitorEntity, client *http.Client) monitor.PageResult {
	return l.page(ctx, entity, 1)
}

func (l *releaseLister) next(ctx context.Context, entity *monitor.PagedFeedMonitorEntity, client *http.Client, continuation any) monitor.PageResult {
	page, ok := continuation.(int)
	if !ok {
		return monitor.PageResult{Ok: false}
	}
	return l.page(ctx, entity, page)
}

func (l *releaseLister) page(ctx context.Context, entity *monitor.PagedFeedMonitorEntity, page int) monitor.PageResult {
	owner, name, err := splitRepo(entity.URL)
	if err != nil {
		return monitor.PageResult{Ok: false}
	}

	releases, resp, err := l.client.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{
		Page:    page,
		PerPage: 20,
	})
	if err != nil {
		return monitor.PageResult{Ok: false}
	}

	includePrerelease := l.includePrerelease[entity.Name]
	records := make([]record.Record, 0, len(releases))
	for _, r := range releases {
		if r.GetPrerelease() && !includePrerelease {
			continue
		}
		rec := record.NewGeneric("GitHubReleaseRecord", map[string]any{
			"id":           strconv.FormatInt(r.GetID(), 10),
			"repo":         entity.URL,
			"tag_name":     r.GetTagName(),
			"name":         r.GetName(),
			"body":         r.GetBody(),
			"html_url":     r.GetHTMLURL(),
			"published_at": r.GetPublishedAt().Time,
			"prerelease":   r.GetPrerelease(),
		})
		rec.IDField = "id"
		records = append(records, rec)
	}

	var cont any
	if resp != nil && resp.NextPage != 0 {
		cont = resp.NextPage
	}

	return monitor.PageResult{Ok: true, Records: records, Context: cont}
}

func recordID(rec record.Record) string { return rec.UID() }

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", errInvalidRepo(repo)
}

type errInvalidRepo string

func (e errInvalidRepo) Error() string { return "invalid repo format: " + string(e) }
