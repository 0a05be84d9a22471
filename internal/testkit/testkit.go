// Package testkit provides bus test doubles for exercising chain wiring
// end-to-end without building real monitors and actions: a Sender stands
// in for a producing entity, a Receiver stands in for a consuming entity
// and records everything it's handed so a test can assert on it.
package testkit

import (
	"sync"

	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
)

// Sender publishes records on behalf of a fake producer entity, the way
// a real monitor would after Emit. Tests use it to drive records into
// the front of a compiled chain.
type Sender struct {
	b      *bus.Bus
	actor  string
	entity string
}

// NewSender returns a Sender that publishes as actor/entity.
func NewSender(b *bus.Bus, actor, entity string) *Sender {
	return &Sender{b: b, actor: actor, entity: entity}
}

// Send publishes rec on the given chain's output topic, as if the entity
// had just produced it. An empty chain fans out to every chain
// subscribed to this producer.
func (s *Sender) Send(chain string, rec record.Record) {
	s.b.Pub(bus.Topic{Direction: bus.DirOutput, Actor: s.actor, Entity: s.entity, Chain: chain}, rec)
}

// Receiver stands in for a consuming entity, keeping a history of every
// record it's handed per entity name — mirroring the Consumer history
// map of the reference implementation this package is modeled on.
type Receiver struct {
	mu      sync.Mutex
	history map[string][]record.Record
}

// NewReceiver subscribes a Receiver to actor's inputs topic for each
// named entity, regardless of chain.
func NewReceiver(b *bus.Bus, actor string, entities ...string) *Receiver {
	r := &Receiver{history: make(map[string][]record.Record, len(entities))}
	for _, entity := range entities {
		entity := entity
		r.history[entity] = nil
		b.Sub(bus.Topic{Direction: bus.DirInput, Actor: actor, Entity: entity}, func(_ bus.Topic, rec record.Record) {
			r.mu.Lock()
			r.history[entity] = append(r.history[entity], rec)
			r.mu.Unlock()
		})
	}
	return r
}

// History returns every record delivered to entity so far, in delivery
// order.
func (r *Receiver) History(entity string) []record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]record.Record, len(r.history[entity]))
	copy(out, r.history[entity])
	return out
}

// Count returns len(History(entity)) without copying the slice.
func (r *Receiver) Count(entity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history[entity])
}
