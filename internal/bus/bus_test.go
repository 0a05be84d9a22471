package bus

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/record"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

// Subscriptions are a list, not a set — subscribing the same callback
// twice delivers twice.
func TestSubIsIdempotentList(t *testing.T) {
	b := newTestBus()
	topic := Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}

	var deliveries int
	cb := func(Topic, record.Record) { deliveries++ }
	b.Sub(topic, cb)
	b.Sub(topic, cb)

	pubTopic := Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}
	b.Pub(pubTopic, record.NewTextRecord("x"))

	if deliveries != 2 {
		t.Fatalf("expected 2 deliveries from 2 identical subscriptions, got %d", deliveries)
	}
}

// A record with chain="" published by a producer bound to N chains is
// delivered to consumers of all N chains, each with the subscription's
// chain set on the delivered copy.
func TestPubFansOutToAllSubscribedChains(t *testing.T) {
	b := newTestBus()

	var gotChain1, gotChain2 string
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, func(_ Topic, r record.Record) {
		gotChain1 = r.Chain()
	})
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain2"}, func(_ Topic, r record.Record) {
		gotChain2 = r.Chain()
	})

	rec := record.NewTextRecord("fanout")
	// Published with no chain assigned — as if from a producer's forwarder
	// bridging two chains into the same consumer topic family.
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, rec)
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain2"}, rec)

	if gotChain1 != "chain1" {
		t.Fatalf("expected chain1 delivery to carry chain1, got %q", gotChain1)
	}
	if gotChain2 != "chain2" {
		t.Fatalf("expected chain2 delivery to carry chain2, got %q", gotChain2)
	}
	if rec.Chain() != "" {
		t.Fatalf("expected original record's chain to remain unassigned, got %q", rec.Chain())
	}
}

func TestPubDeliversUnchangedWhenChainAlreadySet(t *testing.T) {
	b := newTestBus()
	var got string
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, func(_ Topic, r record.Record) {
		got = r.Chain()
	})

	rec := record.NewTextRecord("already routed")
	rec.SetChain("chain1")
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, rec)

	if got != "chain1" {
		t.Fatalf("expected delivered chain to remain chain1, got %q", got)
	}
}

func TestWildcardSubscriptionMatchesAnyChain(t *testing.T) {
	b := newTestBus()
	var count int
	b.Sub(Topic{Direction: DirOutput, Actor: "p", Entity: "p1", Chain: ""}, func(Topic, record.Record) {
		count++
	})

	b.Pub(Topic{Direction: DirOutput, Actor: "p", Entity: "p1", Chain: "chainA"}, record.NewTextRecord("a"))
	b.Pub(Topic{Direction: DirOutput, Actor: "p", Entity: "p1", Chain: "chainB"}, record.NewTextRecord("b"))

	if count != 2 {
		t.Fatalf("expected wildcard subscription to match both chains, got %d deliveries", count)
	}
}

func TestGetHistoryBoundedAndFiltered(t *testing.T) {
	b := newTestBus()
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, func(Topic, record.Record) {})

	for i := 0; i < HistorySize+5; i++ {
		b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, record.NewTextRecord("x"))
	}

	h := b.GetHistory(DirInput, "c", "c1", "")
	if len(h) != HistorySize {
		t.Fatalf("expected history capped at %d, got %d", HistorySize, len(h))
	}

	h2 := b.GetHistory(DirInput, "c", "c1", "chain1")
	if len(h2) != HistorySize {
		t.Fatalf("expected filtered history still capped at %d, got %d", HistorySize, len(h2))
	}

	h3 := b.GetHistory(DirInput, "c", "c1", "no-such-chain")
	if len(h3) != 0 {
		t.Fatalf("expected no matches for unrelated chain, got %d", len(h3))
	}
}

func TestDumpAndApplyStateRoundTripsFields(t *testing.T) {
	b := newTestBus()
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, func(Topic, record.Record) {})
	rec := record.NewTextRecord("persisted")
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, rec)

	dir := t.TempDir()
	if err := b.DumpState(dir); err != nil {
		t.Fatalf("DumpState: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected at least one state file, err=%v entries=%v", err, entries)
	}

	b2 := newTestBus()
	if err := b2.ApplyState(dir); err != nil {
		t.Fatalf("ApplyState: %v", err)
	}

	h := b2.GetHistory(DirInput, "c", "c1", "")
	if len(h) != 1 {
		t.Fatalf("expected 1 restored history entry, got %d", len(h))
	}
	if h[0].Fields()["text"] != "persisted" {
		t.Fatalf("expected restored text field, got %v", h[0].Fields())
	}
}

func TestClearSubscriptionsLeavesHistoryIntact(t *testing.T) {
	b := newTestBus()
	var count int
	b.Sub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, func(Topic, record.Record) { count++ })
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, record.NewTextRecord("x"))

	b.ClearSubscriptions()
	b.Pub(Topic{Direction: DirInput, Actor: "c", Entity: "c1", Chain: "chain1"}, record.NewTextRecord("y"))

	if count != 1 {
		t.Fatalf("expected no further deliveries after ClearSubscriptions, got %d total", count)
	}
	if len(b.GetHistory(DirInput, "c", "c1", "")) != 1 {
		t.Fatalf("expected history from before ClearSubscriptions to remain")
	}
}
