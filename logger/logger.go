// Package logger builds the zerolog loggers used across the service.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Standard field keys.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldMessageID = "message_id"
)

// Config contains logging configuration.
type Config struct {
	Level  string
	Format string
}

// New creates a logger writing to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Format "console" produces
// human readable output, anything else produces JSON lines.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}

// Nop returns a disabled logger, handy in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
