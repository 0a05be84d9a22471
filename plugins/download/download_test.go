package download

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/httpkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/tools"
)

func newTestAction(t *testing.T, outputDir string, ent Entity, maxBytes int64) *Action {
	t.Helper()
	rt := &actorkit.Runtime{Bus: bus.New(zerolog.Nop()), Logger: zerolog.Nop()}
	a := &Action{
		client:   httpkit.NewClient(),
		fs:       tools.NewFileTools(outputDir, nil),
		byName:   map[string]Entity{"e1": ent},
		maxBytes: maxBytes,
		logger:   zerolog.Nop(),
	}
	a.Action = actorkit.NewAction(rt, "download", map[string]actorkit.EntityBase{"e1": {}}, a.handle)
	return a
}

func TestHandleSavesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1"}, 1<<20)

	rec := record.NewTextRecord(srv.URL + "/file.bin")
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
	if string(data) != "payload bytes" {
		t.Fatalf("expected saved content to match response body, got %q", string(data))
	}
	if !strings.HasSuffix(entries[0].Name(), ".bin") {
		t.Fatalf("expected saved file to keep the source extension, got %q", entries[0].Name())
	}
}

func TestHandleRejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1"}, 10)

	a.handle("e1", record.NewTextRecord(srv.URL+"/big.bin"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no saved file when response exceeds max size, got %d", len(entries))
	}
}

func TestHandleEmptyURLIsNoop(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, Entity{Name: "e1"}, 1<<20)

	a.handle("e1", record.NewTextRecord(""))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no saved file for an empty URL, got %d", len(entries))
	}
}
