package actorkit

import "github.com/nugget/waymark/internal/record"

// HandleFunc implements an Action entity's side effect (send a message,
// write a file, run a subprocess, persist a row). It receives the record
// already normalized to entity.Timezone.
type HandleFunc func(entity string, rec record.Record)

// Action is the base for actors that side-effect the outside world.
// Concrete actions supply a HandleFunc; Action handles timezone
// normalization, event_passthrough, consume_record, and re-emission.
type Action struct {
	rt       *Runtime
	name     string
	entities map[string]EntityBase
	handle   HandleFunc
}

// NewAction constructs an Action named actorName with the given per-entity
// configuration and handler, and subscribes inputs/<actorName>/<entity>
// for every entry in entities.
func NewAction(rt *Runtime, actorName string, entities map[string]EntityBase, handle HandleFunc) *Action {
	a := &Action{rt: rt, name: actorName, entities: entities, handle: handle}
	for entity := range entities {
		entity := entity
		subscribeInputs(rt, actorName, entity, func(rec record.Record) {
			a.handleRecord(entity, rec)
		})
	}
	return a
}

func (a *Action) handleRecord(entity string, rec record.Record) {
	cfg := a.entities[entity]

	out := rec
	if cfg.Timezone != nil {
		out = out.AsTimezone(cfg.Timezone)
	}

	_, isEvent := out.(*record.Event)
	if !(cfg.EventPassthrough && isEvent) {
		a.handle(entity, out)
	}

	if !cfg.ConsumeRecord {
		onRecord(a.rt, a.name, entity, cfg.ResetOrigin, out)
	}
}

// Name returns the actor's configured name.
func (a *Action) Name() string { return a.name }
