package qrcode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/tools"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newTestAction(t *testing.T, outputDir string, ent Entity) *Action {
	t.Helper()
	rt := &actorkit.Runtime{Bus: bus.New(zerolog.Nop()), Logger: zerolog.Nop()}
	if ent.Size <= 0 {
		ent.Size = 256
	}
	a := &Action{
		fs:     tools.NewFileTools(outputDir, nil),
		byName: map[string]Entity{"e1": ent},
		logger: zerolog.Nop(),
	}
	a.Action = actorkit.NewAction(rt, "qrcode", map[string]actorkit.EntityBase{"e1": {}}, a.handle)
	return a
}

func TestHandleWritesPNGFile(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1"})

	rec := record.NewTextRecord("https://example.com/page")
	a.handle("e1", rec)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one saved file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		n := len(data)
		if n > 8 {
			n = 8
		}
		t.Fatalf("expected a PNG signature, got %x", data[:n])
	}
}

func TestHandleUsesURLFieldWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1", URLField: "url"})

	rec := record.NewGeneric("Generic", map[string]any{"url": "https://example.com/from-field"})
	a.handle("e1", rec)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one saved file, got %d", len(entries))
	}
}

func TestHandleEmptyURLIsNoop(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1"})

	a.handle("e1", record.NewTextRecord(""))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no saved file for an empty URL, got %d", len(entries))
	}
}
