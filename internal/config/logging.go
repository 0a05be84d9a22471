package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLogLevel converts a string to a zerolog.Level. Supported values:
// trace, debug, info, warn, error (case-insensitive); empty means info.
func ParseLogLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ComponentLogger returns a child logger for component, scoped to
// settings.LoglevelOverride[component] if present, falling back to base's
// own level otherwise. This is the per-component override avtdl's
// configure_loggers/override_loglevel implement by mutating named
// logging.Logger instances directly; zerolog has no mutable named-logger
// registry, so the equivalent here is building each component's logger
// once, with its own level baked in, and threading it through that
// component's constructor.
func (s Settings) ComponentLogger(base zerolog.Logger, component string) zerolog.Logger {
	logger := base.With().Str("component", component).Logger()

	override, ok := s.LoglevelOverride[component]
	if !ok {
		return logger
	}
	level, err := ParseLogLevel(override)
	if err != nil {
		return logger
	}
	return logger.Level(level)
}
