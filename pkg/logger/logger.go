package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newLogger(os.Stderr, "console")
)

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Configure replaces the global logger. format is "console" or "json".
func Configure(w io.Writer, format, level string) error {
	l := newLogger(w, strings.ToLower(format))
	if level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return err
		}
		l = l.Level(lvl)
	}

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	mu.Lock()
	log = log.Level(lvl)
	mu.Unlock()
	return nil
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func emit(e *zerolog.Event, component, msg string, fields map[string]any) {
	if component != "" {
		e = e.Str("component", component)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

func DebugC(component, msg string) { emit(current().Debug(), component, msg, nil) }
func InfoC(component, msg string)  { emit(current().Info(), component, msg, nil) }
func WarnC(component, msg string)  { emit(current().Warn(), component, msg, nil) }
func ErrorC(component, msg string) { emit(current().Error(), component, msg, nil) }

func DebugCF(component, msg string, fields map[string]any) {
	emit(current().Debug(), component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]any) {
	emit(current().Info(), component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]any) {
	emit(current().Warn(), component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]any) {
	emit(current().Error(), component, msg, fields)
}
