package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	// JSON for production, pretty console output otherwise
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	Configure(level, os.Getenv("APP_ENV") != "production")
}

// New builds a logger writing to w at the given level. Unknown levels fall back to info.
// When pretty is set the output goes through a zerolog.ConsoleWriter on w.
func New(w io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel is zerolog.ParseLevel with an info fallback.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Configure replaces the global logger. Pretty output goes to stderr, JSON to stdout.
func Configure(level string, pretty bool) {
	if pretty {
		Log = New(os.Stderr, level, true)
		return
	}
	Log = New(os.Stdout, level, false)
}

// Component returns the global logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
