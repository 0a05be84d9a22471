package bus

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/waymark/internal/record"
)

// snapshot is the JSON-serializable form of one history entry, used by
// DumpState/ApplyState. Recovered from avtdl/core/runtime.py's
// dump_state/apply_state, which persists the history ring (never live
// subscriptions) across restarts so actors relying on recent history for
// cross-run dedup don't start from nothing.
type snapshot struct {
	Type      string         `json:"type"`
	Origin    string         `json:"origin"`
	Chain     string         `json:"chain"`
	CreatedAt time.Time      `json:"created_at"`
	Fields    map[string]any `json:"fields"`
}

// fileNameFor turns a generic topic string into a filesystem-safe name.
// The key is percent-encoded (so '/' becomes "%2F"), which lets
// topicKeyFromFileName recover it exactly.
func fileNameFor(topicKey string) string {
	return url.PathEscape(topicKey) + ".json"
}

// DumpState writes the current history ring, one JSON file per topic, into
// dir. Live subscriptions are never persisted.
func (b *Bus) DumpState(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bus: dump state: %w", err)
	}
	for topicKey, entries := range b.historySnapshot() {
		snaps := make([]snapshot, 0, len(entries))
		for _, r := range entries {
			snaps = append(snaps, snapshot{
				Type:      r.TypeName(),
				Origin:    r.Origin(),
				Chain:     r.Chain(),
				CreatedAt: r.CreatedAt(),
				Fields:    r.Fields(),
			})
		}
		data, err := json.Marshal(snaps)
		if err != nil {
			return fmt.Errorf("bus: marshal history for %s: %w", topicKey, err)
		}
		path := filepath.Join(dir, fileNameFor(topicKey))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("bus: write %s: %w", path, err)
		}
	}
	return nil
}

// ApplyState restores a history ring previously written by DumpState.
// Restored records are reconstructed as record.Generic, preserving type
// name, origin, chain, creation time, and fields — not the original
// concrete Go type, since the bus has no way to know which plugin package
// registered that type. Callers that need the original concrete type
// should read the fields back out rather than type-asserting.
func (b *Bus) ApplyState(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("bus: apply state: %w", err)
	}

	restored := make(map[string][]record.Record, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("bus: read %s: %w", entry.Name(), err)
		}
		var snaps []snapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return fmt.Errorf("bus: unmarshal %s: %w", entry.Name(), err)
		}
		topicKey := topicKeyFromFileName(entry.Name())
		recs := make([]record.Record, 0, len(snaps))
		for _, s := range snaps {
			g := record.NewGeneric(s.Type, s.Fields)
			g.SetOrigin(s.Origin)
			g.SetChain(s.Chain)
			g.SetCreatedAt(s.CreatedAt)
			recs = append(recs, g)
		}
		restored[topicKey] = recs
	}

	b.restoreHistory(restored)
	return nil
}

func topicKeyFromFileName(name string) string {
	base := name
	if len(base) > 5 && base[len(base)-5:] == ".json" {
		base = base[:len(base)-5]
	}
	key, err := url.PathUnescape(base)
	if err != nil {
		return base
	}
	return key
}
