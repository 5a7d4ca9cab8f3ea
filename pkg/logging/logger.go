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
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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
//   - Cache operations (hit/miss, tier, key, TTL)
//   - Key selection and rotation bookkeeping
//   - Snapshot scheduling and debounce timing
//
// Info: Normal operation events
//   - Successful upstream requests
//   - Snapshot persisted / restored
//   - Pool resets after exhaustion
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Key marked exhausted (rotating to the next one)
//   - Retry after quota response
//   - Cache tier errors (serving from upstream instead)
//   - Snapshot eviction under the storage ceiling
//
// Error: Error conditions requiring attention
//   - Failed requests (after exhausting the pool)
//   - Snapshot write failures
//   - Corrupt persisted state
//   - Configuration errors
//
// Context Fields:
//   - endpoint: upstream endpoint path
//   - status_code: HTTP status code
//   - duration: request duration
//   - tier: cache tier (memory, session, durable)
//   - key: cache key or masked API key
//   - attempt: retry attempt number
//   - bytes: snapshot size in bytes
//   - evicted: entries dropped from a snapshot
