// Package config loads and compiles a waymark configuration file: YAML
// parsing, ${VAR} environment expansion, structural validation, actor
// section flattening, and chain construction. Plugin-specific schema
// validation and actor instantiation are layered on top via
// internal/registry, once the plugin set it needs is known.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/chain"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/waymark/config.yaml, /config/config.yaml (container
// convention), /etc/waymark/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "waymark", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml")
	paths = append(paths, "/etc/waymark/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Settings holds the engine-wide, plugin-independent knobs: logging
// destination/rotation and per-component log level overrides.
type Settings struct {
	LogDirectory     string            `yaml:"log_directory"`
	LogfileSize      int               `yaml:"logfile_size"`
	LogfileLevel     string            `yaml:"logfile_level"`
	LoglevelOverride map[string]string `yaml:"loglevel_override"`

	// StorePath is where the content-addressed record store (internal/store)
	// keeps its SQLite file. ":memory:" runs with a clean store every start.
	StorePath string `yaml:"store_path"`

	// OpsListen is the address internal/opsserver binds /metrics and
	// /healthz to, defaulting to ":9090". Set to "off" to disable it.
	OpsListen string `yaml:"ops_listen"`

	// OpstatePath is where internal/opstate's namespaced key-value store
	// keeps its SQLite file. internal/housekeep uses it to persist each
	// job's last-run bookkeeping across restarts. ":memory:" disables
	// that persistence without disabling the jobs themselves.
	OpstatePath string `yaml:"opstate_path"`

	// PruneSchedule is the cron expression internal/housekeep uses to prune
	// old record-store row versions; PruneRetentionDays controls how far
	// back it keeps them.
	PruneSchedule      string `yaml:"prune_schedule"`
	PruneRetentionDays int    `yaml:"prune_retention_days"`

	// SnapshotSchedule is the cron expression internal/housekeep uses to
	// write bus state snapshots into SnapshotDir.
	SnapshotSchedule string `yaml:"snapshot_schedule"`
	SnapshotDir      string `yaml:"snapshot_dir"`
}

// applyDefaults fills in zero-value fields with the defaults documented
// for the settings section, mirroring avtdl's SettingsSection field
// defaults.
func (s *Settings) applyDefaults() {
	if s.LogDirectory == "" {
		s.LogDirectory = "logs"
	}
	if s.LogfileSize == 0 {
		s.LogfileSize = 1_000_000
	}
	if s.LogfileLevel == "" {
		s.LogfileLevel = "debug"
	}
	if s.LoglevelOverride == nil {
		s.LoglevelOverride = map[string]string{
			"bus":           "info",
			"chain":         "info",
			"actor.request": "info",
		}
	}
	if s.StorePath == "" {
		s.StorePath = "waymark.db"
	}
	if s.OpsListen == "" {
		s.OpsListen = ":9090"
	}
	if s.OpstatePath == "" {
		s.OpstatePath = "waymark-state.db"
	}
	if s.PruneSchedule == "" {
		s.PruneSchedule = "0 3 * * *"
	}
	if s.PruneRetentionDays == 0 {
		s.PruneRetentionDays = 30
	}
	if s.SnapshotSchedule == "" {
		s.SnapshotSchedule = "*/15 * * * *"
	}
	if s.SnapshotDir == "" {
		s.SnapshotDir = "state"
	}
}

// ActorSpec is one actor's flattened, structurally-valid configuration:
// the plugin's own "config" map with "name" injected, and one map per
// entity with the actor's "defaults" merged in underneath. Plugin-specific
// decoding and validation happen later, in ValidateActors, once the
// registry knows which Go types this actor kind decodes into.
type ActorSpec struct {
	Name     string
	Config   map[string]any
	Entities []map[string]any
}

// Config is a fully parsed, structurally validated configuration: engine
// settings, one ActorSpec per configured actor, and one compiled
// chain.Config per configured chain.
type Config struct {
	Settings Settings
	Actors   map[string]ActorSpec
	Chains   map[string]chain.Config
}

// ConfigError reports a structural problem in the config file: a
// malformed chain, an unparsable settings field, or similar — the
// YAML-shape-level counterpart to registry.ValidationError, which reports
// plugin schema failures instead.
type ConfigError struct {
	Path  string
	Value string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("error parsing %q in config section %s: %s", truncate(e.Value), e.Path, e.Msg)
}

func truncate(s string) string {
	if len(s) < 85 {
		return s
	}
	return s[:50] + " [...] " + s[len(s)-30:]
}

// actorSection is the YAML shape of one entry under "actors": a
// plugin-specific config map, a defaults map applied to every entity, and
// the list of entities themselves.
type actorSection struct {
	Config   map[string]any   `yaml:"config"`
	Defaults map[string]any   `yaml:"defaults"`
	Entities []map[string]any `yaml:"entities"`
}

// rawConfig is the top-level YAML shape, before flattening.
type rawConfig struct {
	Settings Settings                          `yaml:"settings"`
	Actors   map[string]actorSection           `yaml:"actors"`
	Chains   map[string][]map[string][]string `yaml:"chains"`
}

// Load reads path, expands ${VAR} environment references, and parses the
// result. Load does not run plugin-specific validation or construct
// anything — call ValidateActors and Instantiate for that once a registry
// is available.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	return Parse([]byte(expanded))
}

// Parse parses already-expanded YAML bytes into a Config: structural
// validation (settings fields, chain card shape, chain invariants) plus
// actor-section flattening.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Path: "<root>", Value: err.Error(), Msg: "malformed YAML"}
	}

	raw.Settings.applyDefaults()
	if err := validateSettings(raw.Settings); err != nil {
		return nil, err
	}

	actors := make(map[string]ActorSpec, len(raw.Actors))
	for name, section := range raw.Actors {
		actors[name] = flattenActor(name, section)
	}

	chains := make(map[string]chain.Config, len(raw.Chains))
	for name, cards := range raw.Chains {
		cfg, err := buildChain(name, cards)
		if err != nil {
			return nil, err
		}
		chains[name] = cfg
	}

	return &Config{Settings: raw.Settings, Actors: actors, Chains: chains}, nil
}

func validateSettings(s Settings) error {
	if _, err := ParseLogLevel(s.LogfileLevel); err != nil {
		return &ConfigError{Path: "settings.logfile_level", Value: s.LogfileLevel, Msg: err.Error()}
	}
	for component, level := range s.LoglevelOverride {
		if _, err := ParseLogLevel(level); err != nil {
			return &ConfigError{Path: "settings.loglevel_override." + component, Value: level, Msg: err.Error()}
		}
	}
	return nil
}

// flattenActor merges an actor section's defaults into each of its
// entities and injects the actor's own name into its config map,
// mirroring avtdl's ActorParser.flatten_actor_section.
func flattenActor(name string, section actorSection) ActorSpec {
	cfg := make(map[string]any, len(section.Config)+1)
	for k, v := range section.Config {
		cfg[k] = v
	}
	cfg["name"] = name

	entities := make([]map[string]any, len(section.Entities))
	for i, entity := range section.Entities {
		merged := make(map[string]any, len(section.Defaults)+len(entity))
		for k, v := range section.Defaults {
			merged[k] = v
		}
		for k, v := range entity {
			merged[k] = v
		}
		entities[i] = merged
	}

	return ActorSpec{Name: name, Config: cfg, Entities: entities}
}

// buildChain converts a chain's YAML card list — each card a single-key
// map of actor name to entity list — into a chain.Config and runs
// chain.Validate against it.
func buildChain(name string, cards []map[string][]string) (chain.Config, error) {
	cfg := chain.Config{Name: name}
	for i, card := range cards {
		if len(card) != 1 {
			return chain.Config{}, &ConfigError{
				Path:  fmt.Sprintf("chains.%s[%d]", name, i),
				Value: fmt.Sprint(card),
				Msg:   "each chain card must name exactly one actor",
			}
		}
		for actor, entities := range card {
			cfg.Cards = append(cfg.Cards, chain.Card{Actor: actor, Entities: entities})
		}
	}
	if err := chain.Validate(cfg); err != nil {
		return chain.Config{}, err
	}
	return cfg, nil
}

// ValidateActors runs every actor's flattened config and entities through
// the plugin schema registered for its kind, the two-phase parse's third
// step. It reports the first schema failure it encounters as a
// *registry.ValidationError; config.Actors is unchanged either way.
func (c *Config) ValidateActors() error {
	for name, spec := range c.Actors {
		reg, ok := registry.Lookup(name)
		if !ok {
			return &ConfigError{Path: "actors." + name, Value: name, Msg: "no plugin registered for this actor kind"}
		}

		if _, err := registry.Decode(reg.ConfigType, spec.Config, "actors."+name+".config"); err != nil {
			return err
		}
		for i, entity := range spec.Entities {
			path := fmt.Sprintf("actors.%s.entities[%d]", name, i)
			if _, err := registry.Decode(reg.EntityType, entity, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Instantiate constructs every actor via its registered factory and wires
// every chain's bus subscriptions, returning the populated
// *registry.Instances so callers can issue config sancheck warnings and
// later Start every Startable actor. Call ValidateActors first; Instantiate
// does not re-validate.
func (c *Config) Instantiate(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store) (*registry.Instances, error) {
	instances := registry.NewInstances()

	for name, spec := range c.Actors {
		reg, ok := registry.Lookup(name)
		if !ok {
			return nil, &ConfigError{Path: "actors." + name, Value: name, Msg: "no plugin registered for this actor kind"}
		}

		actor, err := reg.Factory(rt, controller, db, spec.Config, spec.Entities)
		if err != nil {
			return nil, fmt.Errorf("config: instantiate actor %q: %w", name, err)
		}
		instances.Register(name, actor)

		for _, entity := range spec.Entities {
			entityName, _ := entity["name"].(string)
			instances.Add(name, entityName)
		}
	}

	for chainName, cfg := range c.Chains {
		if err := chain.Compile(rt.Bus, instances, cfg, rt.Logger); err != nil {
			return nil, fmt.Errorf("config: compile chain %q: %w", chainName, err)
		}
	}

	return instances, nil
}
