package livechat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/record"
)

// newEchoServer accepts one WebSocket connection, sends each of messages
// to it as a text message, then closes the connection.
func newEchoServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
}

func TestStreamEmitsOneRecordPerMessage(t *testing.T) {
	srv := newEchoServer(t, []string{"hello", "world"})
	defer srv.Close()

	rt := &actorkit.Runtime{Bus: bus.New(zerolog.Nop()), Logger: zerolog.Nop()}
	m := &Monitor{Monitor: actorkit.NewMonitor(rt, "livechat", []string{"e1"})}

	var got []record.Record
	rt.Bus.Sub(bus.Topic{Direction: bus.DirOutput, Actor: "livechat", Entity: "e1"}, func(_ bus.Topic, rec record.Record) {
		got = append(got, rec)
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// stream returns once the server closes the connection after sending
	// both messages, so this call completes on its own.
	_ = m.stream(ctx, Entity{Name: "e1", URL: wsURL})

	if len(got) != 2 {
		t.Fatalf("expected 2 emitted records, got %d", len(got))
	}
	if got[0].Fields()["message"] != "hello" || got[1].Fields()["message"] != "world" {
		t.Fatalf("unexpected message fields: %+v, %+v", got[0].Fields(), got[1].Fields())
	}
}

func TestStreamRejectsInvalidURL(t *testing.T) {
	rt := &actorkit.Runtime{Bus: bus.New(zerolog.Nop()), Logger: zerolog.Nop()}
	m := &Monitor{Monitor: actorkit.NewMonitor(rt, "livechat", []string{"e1"})}

	err := m.stream(context.Background(), Entity{Name: "e1", URL: "://not-a-url"})
	if err == nil {
		t.Fatal("expected an error for an unparseable URL")
	}
}
