// Package logging configures the process-wide slog logger: a text handler on stdout
// for interactive use plus, when a log file path is configured, a JSON handler on that
// file for machine-readable history.
//
// Adapted from ijakenorton-Roundtable/internal/utils/configurelogger.go: kept the
// level-string switch and the "returns the *os.File so the caller can defer Close"
// shape, but the teacher picks ONE destination (stdout text OR file JSON); this domain
// wants both simultaneously (a human watching the terminal, plus a durable per-run
// record under the config directory), so Configure fans out through a small
// multi-handler instead of choosing one slog.Handler.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Configure installs the process-wide default logger at the given level, writing
// human-readable text to stdout and, if logFile is non-empty, structured JSON to that
// file. It returns the open file handle (nil if logFile is empty) so the caller can
// close it on shutdown.
func Configure(levelName, logFile string) (*os.File, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, opts)}

	var f *os.File
	if logFile != "" {
		f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", logFile, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	slog.SetDefault(slog.New(newMultiHandler(handlers)))
	return f, nil
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "none", "":
		return slog.LevelError + 1, nil // above Error: nothing logs, Configure still installs the handler
	case "error":
		return slog.LevelError, nil
	case "warn":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return 0, errors.New("unexpected log level: " + name)
	}
}

// multiHandler fans every record out to each wrapped handler, skipping handlers that
// don't want the record at its level.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers []slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return newMultiHandler(next)
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return newMultiHandler(next)
}
