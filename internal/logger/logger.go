// Package logger constructs the zerolog.Logger shared by all three binaries.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger configured for the given environment and level.
// Development environments get a human-readable console writer; anything
// else gets structured JSON on stderr, suitable for log aggregation.
func New(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var log zerolog.Logger
	if env == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log
}
