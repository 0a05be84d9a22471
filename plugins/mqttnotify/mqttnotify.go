// Package mqttnotify implements the mqttnotify Action: publishes each
// record it receives to a configured MQTT topic. One actor instance
// shares a single broker connection (via autopaho) across all of its
// entities; each entity just names its own topic.
package mqttnotify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "mqttnotify",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the mqttnotify actor's broker connection settings.
type Config struct {
	Name     string `yaml:"name" validate:"required"`
	Broker   string `yaml:"broker" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// Entity is one topic to publish records to.
type Entity struct {
	actorkit.EntityBase
	Name   string `yaml:"name" validate:"required"`
	Topic  string `yaml:"topic" validate:"required"`
	QoS    byte   `yaml:"qos"`
	Retain bool   `yaml:"retain"`
}

// Action publishes incoming records to MQTT topics.
type Action struct {
	*actorkit.Action
	cm     *autopaho.ConnectionManager
	byName map[string]Entity
	logger zerolog.Logger
}

// New constructs the mqttnotify Action from its structural config/entities
// and starts connecting to the broker in the background (autopaho retries
// on its own, so New does not block on the initial connection).
func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.mqttnotify.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	byName := make(map[string]Entity, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.mqttnotify.entities")
		if err != nil {
			return nil, err
		}
		e := entAny.(*Entity)
		byName[e.Name] = *e
		entities[e.Name] = e.EntityBase
	}

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqttnotify: parse broker url: %w", err)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "waymark-" + cfg.Name
	}

	a := &Action{byName: byName, logger: rt.Logger.With().Str("actor", cfg.Name).Logger()}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			rt.Logger.Info().Str("actor", cfg.Name).Str("broker", cfg.Broker).Msg("mqtt connected")
		},
		OnConnectError: func(err error) {
			rt.Logger.Warn().Str("actor", cfg.Name).Err(err).Msg("mqtt connection error")
		},
		ClientConfig: paho.ClientConfig{ClientID: clientID},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(controller.Context(), pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqttnotify: connect: %w", err)
	}
	a.cm = cm

	a.Action = actorkit.NewAction(rt, cfg.Name, entities, a.handle)
	return a, nil
}

func (a *Action) handle(entity string, rec record.Record) {
	cfg, ok := a.byName[entity]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := a.cm.Publish(ctx, &paho.Publish{
		Topic:   cfg.Topic,
		Payload: []byte(rec.Text()),
		QoS:     byte(cfg.QoS),
		Retain:  cfg.Retain,
	}); err != nil {
		a.logger.Warn().Str("entity", entity).Str("topic", cfg.Topic).Err(err).Msg("mqtt publish failed")
	}
}
