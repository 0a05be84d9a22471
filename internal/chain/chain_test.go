package chain

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
)

func TestValidateRejectsShortChain(t *testing.T) {
	err := Validate(Config{Name: "c", Cards: []Card{{Actor: "P", Entities: []string{"p1"}}}})
	if err == nil {
		t.Fatal("expected error for a chain with fewer than 2 cards")
	}
}

// A chain must not revisit the same (actor, entity) twice: that would
// create a cycle feeding a card's own output back into itself.
func TestValidateRejectsRepeatedEntity(t *testing.T) {
	cfg := Config{Name: "loopy", Cards: []Card{
		{Actor: "F", Entities: []string{"f1"}},
		{Actor: "F", Entities: []string{"f1"}},
	}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for a chain reusing f1 twice")
	}
	if got := err.Error(); !contains(got, "f1") {
		t.Fatalf("expected error to mention f1, got %q", got)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestCompileWiresProducerToConsumer(t *testing.T) {
	b := bus.New(zerolog.Nop())
	cfg := Config{Name: "chain1", Cards: []Card{
		{Actor: "P", Entities: []string{"p1"}},
		{Actor: "C", Entities: []string{"c1"}},
	}}
	if err := Compile(b, nil, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	var got []record.Record
	b.Sub(bus.Topic{Direction: bus.DirInput, Actor: "C", Entity: "c1"}, func(_ bus.Topic, rec record.Record) {
		got = append(got, rec)
	})

	for _, text := range []string{"one", "two", "three"} {
		b.Pub(bus.Topic{Direction: bus.DirOutput, Actor: "P", Entity: "p1", Chain: "chain1"}, record.NewTextRecord(text))
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 delivered records, got %d", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i].Text() != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, got[i].Text())
		}
	}
}

func TestCompileMultiChainFanout(t *testing.T) {
	b := bus.New(zerolog.Nop())

	chain1 := Config{Name: "chain1", Cards: []Card{
		{Actor: "P", Entities: []string{"p1"}},
		{Actor: "C", Entities: []string{"c1"}},
	}}
	chain2 := Config{Name: "chain2", Cards: []Card{
		{Actor: "P", Entities: []string{"p1"}},
		{Actor: "C", Entities: []string{"c2"}},
	}}
	if err := Compile(b, nil, chain1, zerolog.Nop()); err != nil {
		t.Fatalf("Compile chain1: %v", err)
	}
	if err := Compile(b, nil, chain2, zerolog.Nop()); err != nil {
		t.Fatalf("Compile chain2: %v", err)
	}

	var c1Chain, c2Chain string
	b.Sub(bus.Topic{Direction: bus.DirInput, Actor: "C", Entity: "c1"}, func(_ bus.Topic, rec record.Record) { c1Chain = rec.Chain() })
	b.Sub(bus.Topic{Direction: bus.DirInput, Actor: "C", Entity: "c2"}, func(_ bus.Topic, rec record.Record) { c2Chain = rec.Chain() })

	rec := record.NewTextRecord("fanout")
	b.Pub(bus.Topic{Direction: bus.DirOutput, Actor: "P", Entity: "p1", Chain: "chain1"}, rec)
	b.Pub(bus.Topic{Direction: bus.DirOutput, Actor: "P", Entity: "p1", Chain: "chain2"}, rec)

	if c1Chain != "chain1" {
		t.Fatalf("expected c1 to receive chain1, got %q", c1Chain)
	}
	if c2Chain != "chain2" {
		t.Fatalf("expected c2 to receive chain2, got %q", c2Chain)
	}
}

type stubKnown struct{ known map[string]bool }

func (s stubKnown) HasEntity(actor, entity string) bool { return s.known[actor+"/"+entity] }

func TestCompileWarnsOnUnknownEntityButStillCompiles(t *testing.T) {
	b := bus.New(zerolog.Nop())
	cfg := Config{Name: "c", Cards: []Card{
		{Actor: "P", Entities: []string{"p1"}},
		{Actor: "C", Entities: []string{"c1"}},
	}}
	known := stubKnown{known: map[string]bool{"P/p1": true}}
	if err := Compile(b, known, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("expected unknown entity to only warn, got error: %v", err)
	}
}
