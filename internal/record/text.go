package record

import "time"

// TextRecord is the minimal concrete Record: a single string. The tests
// use it, including those of the test-double actors in internal/testkit
// (mirroring avtdl's test_chains.py Sender/Receiver pattern); no plugin
// emits it (plugins/localfiles emits a Generic "LocalFileRecord").
type TextRecord struct {
	Base
	Value string
}

// NewTextRecord builds a TextRecord carrying value.
func NewTextRecord(value string) *TextRecord {
	return &TextRecord{Base: NewBase(), Value: value}
}

func (t *TextRecord) TypeName() string        { return "TextRecord" }
func (t *TextRecord) Fields() map[string]any  { return map[string]any{"text": t.Value} }
func (t *TextRecord) UID() string             { return DefaultUID(t) }
func (t *TextRecord) Hash() string            { return Hash(t) }
func (t *TextRecord) AsJSON() string          { return CanonicalJSON(t) }
func (t *TextRecord) Text() string            { return t.Value }
func (t *TextRecord) ShortText() string       { return t.Value }

func (t *TextRecord) AsTimezone(loc *time.Location) Record {
	clone := *t
	clone.Base.createdAt = t.CreatedAt().In(loc)
	return &clone
}

// Generic is a map-backed Record for plugins that don't warrant a bespoke
// struct. UID falls back to the content hash unless IDField names a field
// in Values to use as the source-stable identifier.
type Generic struct {
	Base
	Kind    string
	Values  map[string]any
	IDField string
}

// NewGeneric builds a Generic record of the given kind with the given
// field values.
func NewGeneric(kind string, values map[string]any) *Generic {
	return &Generic{Base: NewBase(), Kind: kind, Values: values}
}

// SetCreatedAt overrides the creation timestamp. Used when reconstructing
// a Generic from persisted state (see bus.ApplyState), where the original
// creation time must be preserved rather than stamped at reconstruction
// time.
func (g *Generic) SetCreatedAt(t time.Time) { g.Base.createdAt = t }

func (g *Generic) TypeName() string       { return g.Kind }
func (g *Generic) Fields() map[string]any { return g.Values }

func (g *Generic) UID() string {
	if g.IDField != "" {
		if v, ok := g.Values[g.IDField]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return DefaultUID(g)
}

func (g *Generic) Hash() string   { return Hash(g) }
func (g *Generic) AsJSON() string { return CanonicalJSON(g) }

func (g *Generic) Text() string {
	if v, ok := g.Values["title"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return g.AsJSON()
}

func (g *Generic) ShortText() string {
	t := g.Text()
	if len(t) > 120 {
		return t[:117] + "..."
	}
	return t
}

func (g *Generic) AsTimezone(loc *time.Location) Record {
	clone := *g
	clone.Base.createdAt = g.CreatedAt().In(loc)
	clone.Values = WithTimezone(g.Values, loc)
	return &clone
}
