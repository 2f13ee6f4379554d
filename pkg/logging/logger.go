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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
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

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Pool operations (hit/miss, eviction, sweep)
//   - Admission flow (rate window waits, semaphore queueing)
//   - Pagination verdicts
//
// Info: Normal operation events
//   - Polling session lifecycle (started, stopped, recovered)
//   - New pooled client created for a tenant
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Rate limiter waits under sustained load
//   - Dropped SSE events for slow subscribers
//   - Poll cycle failures below the breaker threshold
//
// Error: Error conditions requiring attention
//   - Upstream client construction failures
//   - Circuit breaker trips (session degraded)
//   - Configuration errors
//
// Context Fields:
//   - tenant: cache key of the tenant the operation runs for
//   - entity: upstream entity name (tickets, companies, ...)
//   - operation: query, get, create, update, delete
//   - poll_id: polling session identifier
//   - status_code: upstream HTTP status code
//   - duration: call duration through the execution gate
//   - consecutive_errors: current poll failure streak
