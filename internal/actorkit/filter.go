package actorkit

import "github.com/nugget/waymark/internal/record"

// MatchFunc implements a Filter entity's transformation. It returns the
// (possibly different) record to forward and true, or false to drop the
// input record entirely.
type MatchFunc func(entity string, rec record.Record) (record.Record, bool)

// Filter is the base for actors that transform or drop records in place
// inside a chain. Concrete filters supply a MatchFunc; Filter handles the
// origin/chain defaulting and reset_origin/emission machinery common to
// every filter plugin.
type Filter struct {
	rt       *Runtime
	name     string
	entities map[string]EntityBase
	match    MatchFunc
}

// NewFilter constructs a Filter named actorName with the given per-entity
// configuration and match function, and subscribes
// inputs/<actorName>/<entity> for every entry in entities.
func NewFilter(rt *Runtime, actorName string, entities map[string]EntityBase, match MatchFunc) *Filter {
	f := &Filter{rt: rt, name: actorName, entities: entities, match: match}
	for entity := range entities {
		entity := entity
		subscribeInputs(rt, actorName, entity, func(rec record.Record) {
			f.handleRecord(entity, rec)
		})
	}
	return f
}

func (f *Filter) handleRecord(entity string, rec record.Record) {
	out, ok := f.match(entity, rec)
	if !ok {
		f.rt.Logger.Debug().
			Str("actor", f.name).
			Str("entity", entity).
			Msg("filter dropped record")
		return
	}

	// The returned record's origin/chain default to the input's when the
	// match function didn't set them explicitly.
	if out.Origin() == "" {
		out.SetOrigin(rec.Origin())
	}
	if out.Chain() == "" {
		out.SetChain(rec.Chain())
	}

	onRecord(f.rt, f.name, entity, f.entities[entity].ResetOrigin, out)
}

// Name returns the actor's configured name.
func (f *Filter) Name() string { return f.name }
