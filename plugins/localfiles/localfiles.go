// Package localfiles implements the localfiles Monitor: polls a directory
// (or single file) on an interval and emits a record for every file whose
// content hash has changed since the last poll.
package localfiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"reflect"
	"sync"
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
		Name:       "localfiles",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the localfiles actor's top-level settings.
type Config struct {
	Name string `yaml:"name" validate:"required"`
}

// Entity is one path to watch; Path may be a single file or a directory,
// in which case Pattern filters entries within it (non-recursive).
type Entity struct {
	Name           string `yaml:"name" validate:"required"`
	Path           string `yaml:"path" validate:"required"`
	Pattern        string `yaml:"pattern"`
	UpdateInterval int    `yaml:"update_interval"`
}

// Monitor polls a set of local paths for content changes.
//
// Dedup state lives in memory, not in internal/store: unlike the HTTP
// monitors, there is no natural per-item identity to key a store row on
// beyond "this file's content changed", and the working set here (one hash
// per watched file) is small enough that losing it across a restart just
// means one extra round of records on the first poll.
type Monitor struct {
	task *monitor.TaskMonitor
	name string

	mu     sync.Mutex
	hashes map[string]map[string]string // entity -> path -> content hash
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.localfiles.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	byName := make(map[string]*Entity, len(rawEntities))
	entities := make([]*monitor.TaskMonitorEntity, len(rawEntities))
	for i, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.localfiles.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		byName[e.Name] = e

		interval := time.Duration(e.UpdateInterval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		entities[i] = &monitor.TaskMonitorEntity{Name: e.Name, UpdateInterval: interval}
	}

	m := &Monitor{name: cfg.Name, hashes: make(map[string]map[string]string)}
	m.task = monitor.NewTaskMonitor(rt, controller, cfg.Name, entities, func(ctx context.Context, te *monitor.TaskMonitorEntity) ([]record.Record, error) {
		return m.poll(byName[te.Name])
	})
	return m, nil
}

func (m *Monitor) Name() string { return m.name }

// Start begins polling; TaskMonitor.Start spawns one goroutine per entity
// and returns immediately, so this never blocks.
func (m *Monitor) Start(ctx context.Context) error {
	m.task.Start()
	return nil
}

func (m *Monitor) poll(e *Entity) ([]record.Record, error) {
	paths, err := m.matchingFiles(e)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	seen, ok := m.hashes[e.Name]
	if !ok {
		seen = make(map[string]string)
		m.hashes[e.Name] = seen
	}
	m.mu.Unlock()

	var records []record.Record
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])

		m.mu.Lock()
		prev, existed := seen[path]
		seen[path] = hash
		m.mu.Unlock()

		if existed && prev == hash {
			continue
		}

		rec := record.NewGeneric("LocalFileRecord", map[string]any{
			"path":    path,
			"content": string(data),
			"hash":    hash,
		})
		records = append(records, rec)
	}

	return records, nil
}

func (m *Monitor) matchingFiles(e *Entity) ([]string, error) {
	info, err := os.Stat(e.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{e.Path}, nil
	}

	pattern := e.Pattern
	if pattern == "" {
		pattern = "*"
	}

	entries, err := os.ReadDir(e.Path)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			matches = append(matches, filepath.Join(e.Path, entry.Name()))
		}
	}
	return matches, nil
}
