// Package logging builds the service's JSON loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and an optional rotated log file.
type Options struct {
	Level      string // debug, info, warn or error
	File       string // also write to this file when set
	MaxSizeMB  int
	MaxBackups int
}

// New returns a JSON logger tagged with component, configured from
// LOG_LEVEL.
func New(component string) *slog.Logger {
	log, _ := NewWithOptions(component, Options{Level: os.Getenv("LOG_LEVEL")})
	return log
}

// NewWithOptions returns a JSON logger writing to stdout and, when
// opts.File is set, to a size-rotated file. The closer releases the file.
func NewWithOptions(component string, opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}
	return newLogger(w, component, opts.Level), closer
}

func newLogger(w io.Writer, component, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	log := slog.New(h)
	if component != "" {
		log = log.With("component", component)
	}
	return log
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
