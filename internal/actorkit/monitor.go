package actorkit

import "github.com/nugget/waymark/internal/record"

// Monitor is the base for actors that poll an external source and mint
// records, but a Monitor's handle_record is also a valid pass-through:
// a Monitor entity referenced mid-chain simply re-emits
// whatever it receives via Emit, so plugins that act as a source in one
// chain and a relay in another need no special casing.
//
// Monitor entities never carry reset_origin (MonitorEntityBase omits the
// field); Emit always publishes with resetOrigin=false.
type Monitor struct {
	rt   *Runtime
	name string
}

// NewMonitor constructs a Monitor named actorName and subscribes
// inputs/<actorName>/<entity> for every entity in entityNames, wiring
// pass-through re-emission. Plugins call Emit directly from their polling
// loop to publish newly minted records; the inputs subscription exists so
// the same entity can also sit mid-chain.
func NewMonitor(rt *Runtime, actorName string, entityNames []string) *Monitor {
	m := &Monitor{rt: rt, name: actorName}
	for _, entity := range entityNames {
		entity := entity
		subscribeInputs(rt, actorName, entity, func(rec record.Record) {
			m.Emit(entity, rec)
		})
	}
	return m
}

// Emit publishes rec as having been produced (or relayed) by entity.
func (m *Monitor) Emit(entity string, rec record.Record) {
	onRecord(m.rt, m.name, entity, false, rec)
}

// Name returns the actor's configured name.
func (m *Monitor) Name() string { return m.name }
