package registry

import (
	"context"
	"fmt"
	"sync"
)

// Instances tracks the actors a config actually constructed, which entity
// names each one owns, and starts the ones with a background polling
// loop. It implements chain.KnownEntities so the chain compiler can warn
// (not fail) when a chain references an actor/entity pair that doesn't
// exist — avtdl's config_sancheck.
type Instances struct {
	mu     sync.RWMutex
	set    map[string]map[string]bool
	actors map[string]Actor
	order  []string
}

// NewInstances returns an empty Instances.
func NewInstances() *Instances {
	return &Instances{
		set:    make(map[string]map[string]bool),
		actors: make(map[string]Actor),
	}
}

// Register records that actor was constructed under name, so it can later
// be started via StartAll.
func (i *Instances) Register(name string, actor Actor) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.actors[name]; !exists {
		i.order = append(i.order, name)
	}
	i.actors[name] = actor
}

// Add records that actor owns entity.
func (i *Instances) Add(actor, entity string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entities, ok := i.set[actor]
	if !ok {
		entities = make(map[string]bool)
		i.set[actor] = entities
	}
	entities[entity] = true
}

// HasEntity implements chain.KnownEntities.
func (i *Instances) HasEntity(actor, entity string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.set[actor][entity]
}

// Actor returns the constructed actor registered under name, if any.
func (i *Instances) Actor(name string) (Actor, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	a, ok := i.actors[name]
	return a, ok
}

// StartAll starts every constructed actor that implements Startable, in
// registration order, stopping at the first error. Actors without a
// background polling loop (Filters, Actions) are skipped: their
// subscriptions are already wired by construction.
func (i *Instances) StartAll(ctx context.Context) error {
	i.mu.RLock()
	names := append([]string(nil), i.order...)
	actors := make(map[string]Actor, len(i.actors))
	for k, v := range i.actors {
		actors[k] = v
	}
	i.mu.RUnlock()

	for _, name := range names {
		startable, ok := actors[name].(Startable)
		if !ok {
			continue
		}
		if err := startable.Start(ctx); err != nil {
			return fmt.Errorf("registry: start actor %q: %w", name, err)
		}
	}
	return nil
}
