// Package record defines the data model that flows across the bus: the
// Record interface every producer/filter/action exchanges, and the
// canonical-JSON/hash machinery used for identity and dedup.
package record

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not security-sensitive
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Record is the unit of data flowing through the bus. Concrete plugin
// record types embed Base and implement Fields/TypeName/Text/ShortText;
// UID/Hash/AsJSON have sensible defaults built on top of Fields.
type Record interface {
	Origin() string
	SetOrigin(origin string)
	Chain() string
	SetChain(chain string)
	CreatedAt() time.Time

	// Fields returns the record's plugin-specific data as a name->value
	// map, used for canonical serialization, filtering, and formatting.
	Fields() map[string]any

	// TypeName identifies the record's concrete type, stored as
	// class_name in the record store and as "type" in canonical JSON.
	TypeName() string

	// UID returns a stable identity across content updates of the same
	// logical item. Plugins that have a natural source ID should
	// override this; the zero-value behavior (via Base) falls back to
	// the content hash.
	UID() string

	// Hash returns the SHA-1 of the record's canonical JSON; it changes
	// whenever any field changes.
	Hash() string

	// AsJSON returns the canonical serialization: sorted keys, every
	// value stringified through encoding/json.
	AsJSON() string

	// AsTimezone returns a deep copy with every datetime field converted
	// to loc.
	AsTimezone(loc *time.Location) Record

	// Text and ShortText render the record for logs and for actions that
	// emit human-readable output (file writers, chat notifiers).
	Text() string
	ShortText() string
}

// Base provides the routing fields (origin, chain, created_at) and default
// UID/Hash/AsJSON implementations common to every Record. Concrete types
// embed Base by value and must implement Fields/TypeName/Text/ShortText
// themselves; Base's UID/Hash/AsJSON call back into the embedding type via
// the Record interface, so Base alone does not satisfy Record.
type Base struct {
	origin    string
	chain     string
	createdAt time.Time
}

// NewBase returns a Base stamped with the current UTC time. Call from
// every concrete record constructor.
func NewBase() Base {
	return Base{createdAt: time.Now().UTC()}
}

func (b *Base) Origin() string         { return b.origin }
func (b *Base) SetOrigin(origin string) { b.origin = origin }
func (b *Base) Chain() string          { return b.chain }
func (b *Base) SetChain(chain string)  { b.chain = chain }
func (b *Base) CreatedAt() time.Time   { return b.createdAt }

// CanonicalJSON serializes a Record's fields plus its routing metadata
// into a sorted-key JSON object. Unknown value types are stringified by
// encoding/json's default behavior (numbers, strings, bools, nested
// maps/slices all marshal naturally; anything else falls back to
// fmt-style %v through json.Marshal's error path being avoided by
// pre-stringifying).
func CanonicalJSON(r Record) string {
	m := make(map[string]any, len(r.Fields())+4)
	for k, v := range r.Fields() {
		m[k] = canonicalValue(v)
	}
	m["origin"] = r.Origin()
	m["chain"] = r.Chain()
	m["created_at"] = r.CreatedAt().UTC().Format(time.RFC3339Nano)
	m["type"] = r.TypeName()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(m[k])
		if err != nil {
			vb, _ = json.Marshal(toString(m[k]))
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func toString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Hash returns the SHA-1 hex digest of r's canonical JSON.
func Hash(r Record) string {
	sum := sha1.Sum([]byte(CanonicalJSON(r))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// DefaultUID returns the content hash, for record types with no natural
// source-stable identifier of their own.
func DefaultUID(r Record) string {
	return Hash(r)
}

// Clone returns a shallow copy of r via reflection, assuming r is a
// pointer to a plain struct (the convention every Record implementation in
// this module follows). Used wherever the bus or actor framework needs to
// hand distinct subscribers their own mutable copy of a wildcard-chain
// record.
func Clone(r Record) Record {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return r
	}
	clonePtr := reflect.New(v.Elem().Type())
	clonePtr.Elem().Set(v.Elem())
	cloned, ok := clonePtr.Interface().(Record)
	if !ok {
		return r
	}
	return cloned
}

// WithTimezone returns a shallow copy of fields with every time.Time value
// converted to loc. Use from a concrete record's AsTimezone implementation.
func WithTimezone(fields map[string]any, loc *time.Location) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			out[k] = t.In(loc)
		} else {
			out[k] = v
		}
	}
	return out
}
