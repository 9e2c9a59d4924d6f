// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForList creates a component logger scoped to one paginated list. The
// parent is omitted for top-level lists.
func ForList(component, list, parent string) zerolog.Logger {
	ctx := log.With().Str("component", component).Str("list", list)
	if parent != "" {
		ctx = ctx.Str("parent", parent)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: page requests (parent, cursor), cache hit/miss, state transitions,
// conditional requests, dropped late results.
//
// Info: refreshes, pages appended, end of feed reached, downloads finished,
// proxy startup/shutdown.
//
// Warn: transport failures, application status failures, retries, cache and
// snapshot errors that fall back to the network.
//
// Error: retries exhausted, rate limit blocks, configuration errors.
//
// Context Fields:
//   - component: emitting package (client, feed-loader, cache, ...)
//   - endpoint: backend path
//   - parent: parent resource id of a paginated list
//   - cursor: pagination cursor (last item id)
//   - state: load state after a transition
//   - status: backend envelope status or HTTP status
//   - error_class: client, server, rate_limit, network
//   - request_id: X-Request-ID sent to the backend
