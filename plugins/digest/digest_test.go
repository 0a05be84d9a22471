package digest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/tools"
)

func newTestAction(t *testing.T, outputDir string, asHTML bool) *Action {
	t.Helper()
	rt := &actorkit.Runtime{Bus: bus.New(zerolog.Nop()), Logger: zerolog.Nop()}
	tmpl, err := template.New("e1").Parse(defaultTemplate)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	a := &Action{
		files:  map[string]entityFiles{"e1": {path: "out.md", tmpl: tmpl, html: asHTML}},
		fs:     tools.NewFileTools(outputDir, nil),
		logger: zerolog.Nop(),
	}
	a.Action = actorkit.NewAction(rt, "digest", map[string]actorkit.EntityBase{"e1": {}}, a.handle)
	return a
}

func TestHandleAppendsMarkdownSnippet(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, false)

	a.handle("e1", record.NewTextRecord("hello world"))
	a.handle("e1", record.NewTextRecord("second entry"))

	data, err := os.ReadFile(filepath.Join(dir, "out.md"))
	if err != nil {
		t.Fatalf("read digest file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "hello world") || !strings.Contains(out, "second entry") {
		t.Fatalf("expected both snippets in file, got %q", out)
	}
	if strings.Index(out, "hello world") > strings.Index(out, "second entry") {
		t.Fatalf("expected snippets appended in order, got %q", out)
	}
}

func TestHandleConvertsToHTML(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, true)

	a.handle("e1", record.NewTextRecord("bold me"))

	data, err := os.ReadFile(filepath.Join(dir, "out.md"))
	if err != nil {
		t.Fatalf("read digest file: %v", err)
	}
	if !strings.Contains(string(data), "<li>") && !strings.Contains(string(data), "<p>") {
		t.Fatalf("expected goldmark-rendered HTML, got %q", string(data))
	}
}

func TestHandleUnknownEntityIsNoop(t *testing.T) {
	dir := t.TempDir()
	a := newTestAction(t, dir, false)

	a.handle("missing", record.NewTextRecord("ignored"))

	if _, err := os.Stat(filepath.Join(dir, "out.md")); !os.IsNotExist(err) {
		t.Fatalf("expected no file for unknown entity, stat err = %v", err)
	}
}

func TestFileToolsAppendAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	fs := tools.NewFileTools(dir, nil)

	if err := fs.Append(context.Background(), "log.txt", "a\n"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := fs.Append(context.Background(), "log.txt", "b\n"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "a\nb\n" {
		t.Fatalf("expected appended content in order, got %q", string(data))
	}
}
