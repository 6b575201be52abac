package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// newConsoleHandler picks the stderr handler: tinted text for a human at a
// terminal, JSON for everything else (pipes, service managers, CI).
func newConsoleHandler(level slog.Level) slog.Handler {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// SetupCLILogging installs a stderr-only logger. Used by CLI commands and
// the bridge, whose stdout must stay clean for envelopes and JSON-RPC.
func SetupCLILogging() {
	slog.SetDefault(slog.New(newConsoleHandler(LoadConfig().LogLevel)))
}

// SetupWorkerLogging installs the worker logger: console on stderr plus a
// JSON stream into the dated log file. A log file that cannot be opened is
// reported but never fatal. The returned closer flushes the file on
// shutdown; it is nil-safe.
func SetupWorkerLogging() func() {
	level := LoadConfig().LogLevel
	console := newConsoleHandler(level)

	file, err := openLogFile()
	if err != nil {
		slog.SetDefault(slog.New(console))
		slog.Warn("log file unavailable, console only", "error", err)
		return func() {}
	}

	slog.SetDefault(slog.New(teeHandler{handlers: []slog.Handler{
		console,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	}}))
	return func() { _ = file.Close() }
}

func openLogFile() (io.WriteCloser, error) {
	if _, err := EnsureDataDir(); err != nil {
		return nil, err
	}
	path, err := LogFilePath(time.Now())
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // G304: path derived from trusted data dir
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// teeHandler fans records out to several handlers so the console and the
// log file see the same stream.
type teeHandler struct {
	handlers []slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return teeHandler{handlers: next}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return teeHandler{handlers: next}
}
