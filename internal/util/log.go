// Package util provides shared logging and formatting helpers.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default). Every line is
// mirrored to the JSON event log when one is open.

func LogDebug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Debug(msg)
	Events().Debug().Msg(msg)
}

func LogInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Info(msg)
	Events().Info().Msg(msg)
}

func LogSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Info(msg)
	Events().Info().Msg(msg)
}

func LogWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Warn(msg)
	Events().Warn().Msg(msg)
}

func LogError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Error(msg)
	Events().Error().Msg(msg)
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// ──────────────────────────────────────────────────────────────────────────────
// JSON event log
// ──────────────────────────────────────────────────────────────────────────────

var (
	eventsMu  sync.RWMutex
	eventsLog = zerolog.Nop()
)

// Events returns the structured event logger. It discards everything until
// OpenEventLog succeeds.
func Events() *zerolog.Logger {
	eventsMu.RLock()
	defer eventsMu.RUnlock()
	l := eventsLog
	return &l
}

// SetEventWriter routes the structured event log to w. A nil w discards.
func SetEventWriter(w io.Writer) {
	eventsMu.Lock()
	defer eventsMu.Unlock()
	if w == nil {
		eventsLog = zerolog.Nop()
		return
	}
	eventsLog = zerolog.New(w).With().Timestamp().Logger()
}

// OpenEventLog appends JSON events to the file at path. The returned func
// closes the file.
func OpenEventLog(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	SetEventWriter(f)
	return func() error {
		eventsMu.Lock()
		eventsLog = zerolog.Nop()
		eventsMu.Unlock()
		return f.Close()
	}, nil
}
