// Package logging wraps zerolog so every actor logs through the same
// configuration (level, console vs JSON) and the same "component" field
// convention, rather than each package constructing its own logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config mirrors the [logging] table of the daemon's TOML config.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	JSON   bool   // false renders a console-friendly writer
	Output io.Writer
}

// New builds the root logger. Every actor should call With("component") on
// it rather than constructing its own zerolog.Logger from scratch.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the given component name, the
// way every actor in the daemon identifies its log lines.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
