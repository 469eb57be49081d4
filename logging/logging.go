// Package logging is the process-wide leveled logger. Stdout is reserved for
// bridge frames, so everything is written to stderr unless redirected.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Logger returns the current logger, for components that take one by value.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetOutput replaces the destination, keeping the level. Output stays in
// the human-readable console format.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true})
}

// SetLevel parses a zerolog level name ("debug", "info", ...).
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(l)
	return nil
}

func Debugf(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Logger()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Logger()
	l.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	l := Logger()
	l.Error().Msgf(format, args...)
}

// Panicf logs at panic level and panics.
func Panicf(format string, args ...any) {
	l := Logger()
	l.Panic().Msgf(format, args...)
}
