package writer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

// teeHandler fans each record out to every handler that accepts its level.
// A failing destination does not stop the others.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(derive func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = derive(h)
	}
	return out
}

// NewConsoleLogger creates a text logger for commands that run without a run directory
func NewConsoleLogger(w io.Writer, logLevel slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// SetupLogger returns a logger tagged with the run ID that writes text to
// console at logLevel and JSON to run.log at Debug. The caller closes the file.
func SetupLogger(runDir *RunDir, console io.Writer, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(runDir.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	handler := teeHandler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: logLevel}),
		slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	return slog.New(handler).With("run_id", runDir.RunID()), logFile, nil
}
