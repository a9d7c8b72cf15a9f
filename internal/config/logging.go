package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelWire sits below slog.LevelDebug: raw wire payloads (broker frames,
// HTTP bodies) logged at this level are noisy enough that Debug alone
// doesn't cut it. Named Wire rather than Trace to avoid colliding with
// this runtime's other "trace" — internal/trace's flow-hop event bus,
// configured separately via the top-level trace: block.
const LevelWire = slog.Level(-8)

var logLevelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"trace":   LevelWire,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel maps a config string to a slog.Level. Recognized values
// are trace, debug, info, warn/warning, and error (case-insensitive);
// trace maps to LevelWire rather than a standard slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := logLevelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
	return level, nil
}

// ReplaceLogLevelNames is an slog.HandlerOptions.ReplaceAttr hook that
// renders LevelWire as "WIRE" instead of the default "DEBUG-8".
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelWire {
			a.Value = slog.StringValue("WIRE")
		}
	}
	return a
}
