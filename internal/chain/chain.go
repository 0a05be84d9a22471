// Package chain compiles declarative chain specifications — ordered lists
// of (actor, entities) cards — into bus subscriptions, rejecting
// loop-prone configurations before any record flows.
package chain

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
)

// Card is one hop of a chain: an actor name and the entities (belonging to
// that actor) participating in this chain at this hop.
type Card struct {
	Actor    string
	Entities []string
}

// Config is a single named chain: an ordered, non-empty sequence of cards.
type Config struct {
	Name  string
	Cards []Card
}

// pair identifies one (actor, entity) slot, the granularity loop
// prevention and duplicate detection both operate on.
type pair struct {
	actor, entity string
}

// Validate enforces the chain invariants that do not depend on the
// runtime actor/entity registry: at least two cards, and no (actor,
// entity) pair repeated anywhere in the flattened chain — a repeat
// would let a forwarder publish back into a topic it (or an earlier hop)
// already subscribes to, causing infinite recursion.
func Validate(cfg Config) error {
	if len(cfg.Cards) < 2 {
		return fmt.Errorf("chain %q: must have at least 2 cards, got %d", cfg.Name, len(cfg.Cards))
	}

	seen := make(map[pair]bool)
	for _, card := range cfg.Cards {
		if len(card.Entities) == 0 {
			return fmt.Errorf("chain %q: card for actor %q lists no entities", cfg.Name, card.Actor)
		}
		for _, entity := range card.Entities {
			p := pair{card.Actor, entity}
			if seen[p] {
				return fmt.Errorf("chain %q: entity %q of actor %q is used multiple times", cfg.Name, entity, card.Actor)
			}
			seen[p] = true
		}
	}
	return nil
}

// KnownEntities reports, for sancheck warnings, whether actor/entity is a
// registered (actor, entity) pair. Compile calls this for every card and
// logs a warning, never an error, for anything it can't resolve — an
// unknown entity is a likely config typo but chains compile anyway.
type KnownEntities interface {
	HasEntity(actor, entity string) bool
}

// Compile wires bus subscriptions for every consecutive producer/consumer
// pair in cfg: for each producer entity × consumer entity, it installs a
// forwarder that republishes on the consumer's chain-scoped inputs topic.
// This forwarder is the only thing that writes chain-level traffic into
// inputs/...; an actor's own handler is subscribed to its inputs topic
// once, at actor construction (actorkit.subscribeInputs), independent of
// how many chains reference it.
func Compile(b *bus.Bus, known KnownEntities, cfg Config, logger zerolog.Logger) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	for _, card := range cfg.Cards {
		for _, entity := range card.Entities {
			if known != nil && !known.HasEntity(card.Actor, entity) {
				logger.Warn().
					Str("chain", cfg.Name).
					Str("actor", card.Actor).
					Str("entity", entity).
					Msg("chain references an actor/entity that does not exist")
			}
		}
	}

	for i := 0; i+1 < len(cfg.Cards); i++ {
		producer := cfg.Cards[i]
		consumer := cfg.Cards[i+1]
		for _, pEntity := range producer.Entities {
			for _, cEntity := range consumer.Entities {
				consumerActor, consumerEntity := consumer.Actor, cEntity
				b.Sub(bus.Topic{
					Direction: bus.DirOutput,
					Actor:     producer.Actor,
					Entity:    pEntity,
					Chain:     cfg.Name,
				}, func(_ bus.Topic, rec record.Record) {
					b.Pub(bus.Topic{
						Direction: bus.DirInput,
						Actor:     consumerActor,
						Entity:    consumerEntity,
						Chain:     cfg.Name,
					}, rec)
				})
			}
		}
	}

	return nil
}
