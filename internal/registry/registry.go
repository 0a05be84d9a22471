// Package registry is the process-wide plugin catalog: a kind/name/factory
// map populated by each plugin package's init() function, and the
// decode-then-validate machinery the config compiler uses to turn a
// plugin's raw YAML config/entities into its own typed structs before
// construction.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

// Actor is the minimum contract every constructed plugin satisfies —
// wrapping whichever of actorkit.Monitor/Filter/Action the plugin embeds.
type Actor interface {
	Name() string
}

// Startable is implemented by actors with a background polling loop
// (monitors built on internal/monitor) that must be kicked off once every
// chain referencing it has been compiled. Filters and Actions are purely
// subscription-driven and never implement it.
type Startable interface {
	Actor
	Start(ctx context.Context) error
}

// Factory constructs one actor instance from its already-flattened,
// not-yet-decoded config and entity maps. rawConfig carries the actor's
// "config" section plus an injected "name" key; rawEntities is one map per
// entity with "defaults" already merged in.
type Factory func(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (Actor, error)

// Registration is what a plugin package hands to Register: the kind name
// it answers to in a config's actors section, the Go types its config and
// entity sections decode into (used for schema validation before
// construction), and the factory that builds the actor.
type Registration struct {
	Name       string
	ConfigType reflect.Type
	EntityType reflect.Type
	Factory    Factory
}

var (
	mu    sync.RWMutex
	kinds = map[string]Registration{}
)

// Register adds reg to the process-wide registry. It is meant to be called
// from a plugin package's init(), mirroring the source's decorator-style
// plugin registration; a duplicate name is a programmer error and panics
// at startup rather than silently shadowing the earlier registration.
func Register(reg Registration) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := kinds[reg.Name]; exists {
		panic(fmt.Sprintf("registry: actor kind %q already registered", reg.Name))
	}
	kinds[reg.Name] = reg
}

// Lookup returns the registration for name, if any.
func Lookup(name string) (Registration, bool) {
	mu.RLock()
	defer mu.RUnlock()
	reg, ok := kinds[name]
	return reg, ok
}

// Names returns every registered actor kind name.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	return names
}

// reset clears the registry. Only tests use this, to keep plugin
// registrations from one test leaking into another.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	kinds = map[string]Registration{}
}

// ValidationError reports that one actor's config or entity section failed
// schema validation, mirroring avtdl.core.config.ConfigurationError's
// path-qualified, truncated-input message.
type ValidationError struct {
	Path  string
	Input string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("error parsing %q in config section %s: %s", truncate(e.Input), e.Path, e.Msg)
}

func truncate(s string) string {
	if len(s) < 85 {
		return s
	}
	return s[:50] + " [...] " + s[len(s)-30:]
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals raw into a new zero value of t and runs it through the
// shared validator instance, returning the decoded value as a pointer. t
// is normally a Registration's ConfigType or EntityType. path identifies
// the offending section in a returned *ValidationError.
func Decode(t reflect.Type, raw map[string]any, path string) (any, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &ValidationError{Path: path, Input: fmt.Sprint(raw), Msg: err.Error()}
	}

	target := reflect.New(t)
	if err := yaml.Unmarshal(data, target.Interface()); err != nil {
		return nil, &ValidationError{Path: path, Input: string(data), Msg: err.Error()}
	}

	if err := validate.Struct(target.Interface()); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			first := verrs[0]
			return nil, &ValidationError{
				Path:  path,
				Input: string(data),
				Msg:   fmt.Sprintf("field %q failed validation %q", first.Namespace(), first.Tag()),
			}
		}
		return nil, &ValidationError{Path: path, Input: string(data), Msg: err.Error()}
	}

	return target.Interface(), nil
}
