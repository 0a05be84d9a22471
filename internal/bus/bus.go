// Package bus implements the in-process publish/subscribe substrate every
// actor and chain hop is wired through: hierarchical topics
// (direction/actor/entity/chain), chain-rewrite-on-delivery for
// wildcard-chain records, a bounded per-topic history ring, and
// idempotent (list, not set) subscriptions.
package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/metrics"
	"github.com/nugget/waymark/internal/record"
)

// Direction is the first segment of a topic.
type Direction string

const (
	DirInput  Direction = "inputs"
	DirOutput Direction = "output"
)

// HistorySize bounds the per-topic ring buffer.
const HistorySize = 20

// Topic addresses a subscription slot: direction/actor/entity/chain. An
// empty Chain in a subscription means "any chain"; an empty Chain in a
// published topic means "unassigned — fan out to every chain subscribed
// to this producer."
type Topic struct {
	Direction Direction
	Actor     string
	Entity    string
	Chain     string
}

func (t Topic) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Direction, t.Actor, t.Entity, t.Chain)
}

// Generic returns t with Chain blanked, the form history is keyed on.
func (t Topic) Generic() Topic {
	t.Chain = ""
	return t
}

// ParseTopic parses a "direction/actor/entity/chain" string.
func ParseTopic(s string) (Topic, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) < 3 {
		return Topic{}, fmt.Errorf("bus: malformed topic %q", s)
	}
	t := Topic{Direction: Direction(parts[0]), Actor: parts[1], Entity: parts[2]}
	if len(parts) == 4 {
		t.Chain = parts[3]
	}
	if t.Direction != DirInput && t.Direction != DirOutput {
		return Topic{}, fmt.Errorf("bus: unknown direction %q in topic %q", t.Direction, s)
	}
	return t, nil
}

// Callback is invoked on every record delivered to a subscription.
type Callback func(topic Topic, rec record.Record)

type subscription struct {
	topic Topic
	cb    Callback
}

func subKey(d Direction, actor, entity string) string {
	return string(d) + "/" + actor + "/" + entity
}

// Bus is the hierarchical-topic pub/sub substrate. The zero value is not
// usable; construct with New.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]subscription
	history map[string][]record.Record
	logger  zerolog.Logger
}

// New builds a Bus that logs dispatch failures through logger.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:    make(map[string][]subscription),
		history: make(map[string][]record.Record),
		logger:  logger.With().Str("component", "bus").Logger(),
	}
}

// Sub appends a callback for topic. Subscriptions are a list, not a set:
// subscribing the same (topic, callback) twice delivers twice.
func (b *Bus) Sub(topic Topic, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := subKey(topic.Direction, topic.Actor, topic.Entity)
	b.subs[k] = append(b.subs[k], subscription{topic: topic, cb: cb})
}

// Pub computes matching subscribers and delivers rec to each,
// synchronously, before returning: publishing is effectively atomic from
// the caller's point of view. Callback panics/errors are caught by the
// caller's own dispatch wrapper
// (actorkit); Pub itself never aborts mid-fanout because one subscriber's
// callback misbehaves — Go panics inside cb are recovered here so one bad
// subscriber cannot prevent delivery to the rest.
func (b *Bus) Pub(topic Topic, rec record.Record) {
	metrics.BusPublished.WithLabelValues(string(topic.Direction)).Inc()

	k := subKey(topic.Direction, topic.Actor, topic.Entity)

	b.mu.Lock()
	matches := make([]subscription, 0, len(b.subs[k]))
	for _, s := range b.subs[k] {
		if s.topic.Chain == "" || topic.Chain == "" || s.topic.Chain == topic.Chain {
			matches = append(matches, s)
		}
	}
	b.mu.Unlock()

	generic := topic.Generic()

	for _, s := range matches {
		delivered := rec
		if rec.Chain() == "" {
			delivered = cloneWithChain(rec, s.topic.Chain)
		}
		b.addHistory(generic, delivered)
		b.deliver(s, topic, delivered)
	}
}

func (b *Bus) deliver(s subscription, topic Topic, rec record.Record) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusDeliveryFailures.WithLabelValues(topic.Actor, topic.Entity).Inc()
			b.logger.Error().
				Str("topic", topic.String()).
				Interface("panic", r).
				Msg("subscriber callback panicked")
		}
	}()
	s.cb(topic, rec)
}

// cloneWithChain returns a copy of rec with Chain set to chain. The
// original is left untouched so concurrent subscribers to the same
// wildcard-chain publish each get their own copy.
func cloneWithChain(rec record.Record, chain string) record.Record {
	cloned := record.Clone(rec)
	cloned.SetChain(chain)
	return cloned
}

func (b *Bus) addHistory(generic Topic, rec record.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := generic.String()
	entries := append(b.history[k], rec)
	if len(entries) > HistorySize {
		entries = entries[len(entries)-HistorySize:]
	}
	b.history[k] = entries
}

// GetHistory returns the chronological slice of records delivered to
// actor/entity on direction dir, optionally filtered to a single chain.
// An empty chain returns every chain's history interleaved in delivery
// order.
func (b *Bus) GetHistory(dir Direction, actor, entity, chain string) []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := Topic{Direction: dir, Actor: actor, Entity: entity}.String()
	entries := b.history[k]
	if chain == "" {
		out := make([]record.Record, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]record.Record, 0, len(entries))
	for _, r := range entries {
		if r.Chain() == chain {
			out = append(out, r)
		}
	}
	return out
}

// ClearSubscriptions removes every subscription. Used on config reload;
// history is left intact.
func (b *Bus) ClearSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}

// historySnapshot returns a stable copy of the current history map for
// persistence (see state.go).
func (b *Bus) historySnapshot() map[string][]record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]record.Record, len(b.history))
	for k, v := range b.history {
		cp := make([]record.Record, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// restoreHistory replaces the history map wholesale. Used by ApplyState.
func (b *Bus) restoreHistory(h map[string][]record.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = h
}
