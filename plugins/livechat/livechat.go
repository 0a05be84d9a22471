// Package livechat implements the livechat Monitor: holds a long-lived
// WebSocket connection per entity, emitting one record per inbound
// message and reconnecting with backoff when the connection drops.
package livechat

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "livechat",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the livechat actor's top-level settings.
type Config struct {
	Name string `yaml:"name" validate:"required"`
}

// Entity is one WebSocket stream to hold open.
type Entity struct {
	Name          string            `yaml:"name" validate:"required"`
	URL           string            `yaml:"url" validate:"required"`
	Headers       map[string]string `yaml:"headers"`
	ReconnectSecs int               `yaml:"reconnect_seconds"`
}

// Monitor maintains one reconnecting WebSocket stream per entity.
type Monitor struct {
	*actorkit.Monitor
	controller *runtime.Controller
	entities   []Entity
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.livechat.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	names := make([]string, 0, len(rawEntities))
	entities := make([]Entity, 0, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.livechat.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		names = append(names, e.Name)
		entities = append(entities, *e)
	}

	m := &Monitor{
		Monitor:    actorkit.NewMonitor(rt, cfg.Name, names),
		controller: controller,
		entities:   entities,
	}
	return m, nil
}

// Start opens one reconnecting stream per entity as a background task.
func (m *Monitor) Start(ctx context.Context) error {
	for _, e := range m.entities {
		e := e
		m.controller.CreateTask(m.Monitor.Name()+":"+e.Name, runtime.TaskInfo{
			Name:      m.Monitor.Name(),
			EntityRef: e.Name,
		}, func(ctx context.Context) error {
			m.run(ctx, e)
			return nil
		})
	}
	return nil
}

// run holds e's stream open, reconnecting with backoff until ctx is done.
func (m *Monitor) run(ctx context.Context, e Entity) {
	delay := time.Duration(e.ReconnectSecs) * time.Second
	if delay <= 0 {
		delay = 10 * time.Second
	}

	for ctx.Err() == nil {
		if err := m.stream(ctx, e); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// stream dials e's URL and emits one record per text/binary message until
// the connection errors or closes.
func (m *Monitor) stream(ctx context.Context, e Entity) error {
	header := make(http.Header, len(e.Headers))
	for k, v := range e.Headers {
		header.Set(k, v)
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		rec := record.NewGeneric("LiveChatMessage", map[string]any{
			"source":  e.Name,
			"message": string(data),
		})
		m.Monitor.Emit(e.Name, rec)
	}
}
