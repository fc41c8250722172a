// Package logger builds the tint-backed slog loggers used by the escrow
// binaries.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type Config struct {
	// Writer receives log lines. Defaults to os.Stdout.
	Writer  io.Writer
	Verbose bool
	// Service is attached to every record when set.
	Service string
}

// New returns a logger writing to cfg.Writer. Colour is only used when the
// writer is a terminal.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(w, &tint.Options{
		Level:       level,
		NoColor:     !isTerminal(w),
		ReplaceAttr: replaceAttr,
	}))
	if cfg.Service != "" {
		log = log.With("service", cfg.Service)
	}
	return log
}

// replaceAttr prints times as UTC RFC3339 with milliseconds and drops empty
// string attributes.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}
