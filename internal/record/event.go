package record

import "time"

// EventType classifies an Event's nature.
type EventType string

const (
	EventGeneric  EventType = "generic"
	EventError    EventType = "error"
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Event is a Record subtype representing a plugin-internal occurrence
// (commonly an error) with an optional cause record. Constructing an
// Event from a cause copies the cause's origin/chain so the event routes
// through the same chains the cause would have.
type Event struct {
	Base
	Type  EventType
	Text_ string
	Cause Record // nil when the event has no originating record
}

// NewEvent builds an Event. If cause is non-nil, origin and chain are
// copied from it so downstream filters route the event the way they would
// route the record that caused it.
func NewEvent(typ EventType, text string, cause Record) *Event {
	e := &Event{Base: NewBase(), Type: typ, Text_: text, Cause: cause}
	if cause != nil {
		e.SetOrigin(cause.Origin())
		e.SetChain(cause.Chain())
	}
	return e
}

func (e *Event) TypeName() string { return "Event" }

func (e *Event) Fields() map[string]any {
	f := map[string]any{
		"event_type": string(e.Type),
		"text":       e.Text_,
	}
	if e.Cause != nil {
		f["cause_uid"] = e.Cause.UID()
	}
	return f
}

func (e *Event) UID() string  { return DefaultUID(e) }
func (e *Event) Hash() string { return Hash(e) }
func (e *Event) AsJSON() string { return CanonicalJSON(e) }

func (e *Event) Text() string      { return e.Text_ }
func (e *Event) ShortText() string { return e.Text_ }

func (e *Event) AsTimezone(loc *time.Location) Record {
	clone := *e
	clone.Base.createdAt = e.CreatedAt().In(loc)
	return &clone
}
