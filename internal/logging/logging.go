// Package logging configures the structured zerolog logger shared by every
// component of the dispatch core.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/config"
)

// New returns a configured zerolog.Logger. Development environments get a
// human-readable console writer; everything else gets JSON suitable for
// log aggregation. The level is cfg.LogLevel when it parses; otherwise it
// is debug in development and info elsewhere.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
	}

	if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
