// Package actorkit implements the common actor behavior shared by every
// Monitor, Filter, and Action: origin stamping, self-loop detection,
// reset_origin, consume_record, event_passthrough, and timezone
// normalization. Plugin packages embed one of Monitor/Filter/Action and
// supply only the plugin-specific callback (Poll/Match/Handle).
package actorkit

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
)

// Runtime is the set of core-substrate references every actor is
// constructed with: the bus it publishes/subscribes through and a logger
// scoped to the owning actor.
type Runtime struct {
	Bus    *bus.Bus
	Logger zerolog.Logger
}

// EntityBase carries the flags common to every entity, except Monitor
// entities, which embed MonitorEntityBase instead (reset_origin has no
// meaning for a Monitor: it always mints records fresh).
type EntityBase struct {
	// ResetOrigin, when true, makes on_record treat this entity as a new
	// point of origin: the record is cloned, its origin is overwritten to
	// this entity's, and its chain is cleared so it fans out fresh to
	// every chain subscribed to this producer.
	ResetOrigin bool `yaml:"reset_origin"`

	// ConsumeRecord, honored only by Action, suppresses re-emission after
	// handle() runs.
	ConsumeRecord bool `yaml:"consume_record"`

	// EventPassthrough, honored only by Action, skips handle() for Event
	// records and re-emits them unchanged instead (subject to
	// ConsumeRecord as usual).
	EventPassthrough bool `yaml:"event_passthrough"`

	// Timezone, honored only by Action, is applied to the record via
	// AsTimezone before handle() runs.
	Timezone *time.Location `yaml:"-"`
}

// MonitorEntityBase carries the flags common to Monitor entities. It has
// no ResetOrigin field, and Monitor.Emit always publishes with
// resetOrigin=false. registry.Decode does not reject unknown keys, so a
// reset_origin key in a Monitor entity's config is accepted and ignored.
type MonitorEntityBase struct{}

// onRecord implements the publisher contract every actor kind calls to
// emit a record it produced or is forwarding:
//
//  1. Compute origin = "<actor>:<entity>".
//  2. Drop and log if the record already carries that exact origin (a
//     cycle: the record is being re-published by the entity that
//     originated it).
//  3. Stamp origin if the record doesn't have one yet.
//  4. If resetOrigin, clone the record, force its origin to this
//     entity's, and clear its chain — subsequent chain subscription
//     fan-out rewrites the chain back in per-subscriber.
//  5. Publish to output/<actor>/<entity>/<record.Chain()>.
func onRecord(rt *Runtime, actorName, entityName string, resetOrigin bool, rec record.Record) {
	origin := actorName + ":" + entityName

	if rec.Origin() == origin {
		rt.Logger.Warn().
			Str("actor", actorName).
			Str("entity", entityName).
			Msg("dropping record: publish would loop back to its own origin")
		return
	}

	out := rec
	switch {
	case resetOrigin:
		out = record.Clone(rec)
		out.SetOrigin(origin)
		out.SetChain("")
	case rec.Origin() == "":
		rec.SetOrigin(origin)
	}

	rt.Bus.Pub(bus.Topic{
		Direction: bus.DirOutput,
		Actor:     actorName,
		Entity:    entityName,
		Chain:     out.Chain(),
	}, out)
}

// subscribeInputs wires the one inputs/<actor>/<entity> subscription every
// entity gets at construction time, dispatching into handler inside a
// recover-and-log wrapper so a plugin's panic never escapes the bus
// dispatch loop and never aborts the publisher.
func subscribeInputs(rt *Runtime, actorName, entityName string, handler func(record.Record)) {
	rt.Bus.Sub(bus.Topic{Direction: bus.DirInput, Actor: actorName, Entity: entityName}, func(_ bus.Topic, rec record.Record) {
		defer func() {
			if r := recover(); r != nil {
				rt.Logger.Error().
					Str("actor", actorName).
					Str("entity", entityName).
					Interface("panic", r).
					Msg("entity handler panicked")
			}
		}()
		handler(rec)
	})
}
