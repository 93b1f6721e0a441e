// Package logging sets up the grader's structured logger. Grounded on the
// teacher's adopted but previously unused github.com/lmittmann/tint
// dependency: every cmd/grader subcommand builds its slog.Logger through
// New so the CLI gets colored, human-readable output on a terminal and
// plain key=value output when piped, without call sites caring which.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New builds a slog.Logger writing to w. When w is a terminal, output is
// colorized via tint; otherwise tint still formats consistently but
// colors are suppressed.
func New(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})
	return slog.New(handler)
}

// Default builds a logger writing to stderr at the given level, the usual
// entry point for cmd/grader subcommands.
func Default(level slog.Level) *slog.Logger {
	return New(os.Stderr, level)
}
