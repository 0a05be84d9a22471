package runtime

import (
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/bus"
)

// Context bundles the bus, the task controller, the logger, and a
// loosely typed extras bag for data that doesn't warrant its own field
// (a shared HTTP client cache, the record store handle, ...). cmd/waymark
// does not build one: it creates the bus (inside actorkit.Runtime), the
// controller, and the logger separately and passes them to each
// constructor.
type Context struct {
	Bus        *bus.Bus
	Controller *Controller
	Logger     zerolog.Logger

	extras map[string]any
}

// New builds a Context wired to a fresh Bus and Controller.
func New(logger zerolog.Logger) *Context {
	return &Context{
		Bus:        bus.New(logger),
		Controller: NewController(logger),
		Logger:     logger,
		extras:     make(map[string]any),
	}
}

// Extra stores a value under key for later retrieval by subsystems that
// share process-wide state outside the bus (e.g. the record store).
func (rc *Context) Extra(key string, value any) {
	rc.extras[key] = value
}

// GetExtra retrieves a value previously stored with Extra.
func (rc *Context) GetExtra(key string) (any, bool) {
	v, ok := rc.extras[key]
	return v, ok
}
