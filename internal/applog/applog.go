// Package applog is the ambient structured-logging stack: a log/slog
// logger writing newline-delimited JSON to a rotating file via
// gopkg.in/natefinch/lumberjack.v2 (already a direct dependency of the
// teacher's stack; no structured-logging library — zerolog/zap/logrus —
// appears anywhere in the retrieved example pack, so slog is the
// standard-library component this module is built on, per the DESIGN.md
// entry for this package). Every request/job handler logs through a
// logger carrying workspace_id and actor_id fields, mirroring the
// teacher's practice of tagging diagnostic output with the active
// issue/session id.
package applog

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how logs are written.
type Config struct {
	// Path is the log file path. Empty means stdout only.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// New builds the root logger. With an empty Path, output goes to stdout;
// otherwise a lumberjack.Logger rotates the file and stdout also receives a
// copy, so `craftctl` invocations both see live output and leave an
// audit trail on disk.
func New(cfg Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    nonZero(cfg.MaxSizeMB, 50),
			MaxBackups: nonZero(cfg.MaxBackups, 5),
			MaxAge:     nonZero(cfg.MaxAgeDays, 28),
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	return slog.New(handler)
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type ctxKey struct{}

// WithLogger binds logger to ctx, for handlers that enrich it with
// request-scoped fields (workspace_id, actor_id, trace_id) at entry.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the bound logger, or slog.Default() if none is bound.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ForRequest returns a logger enriched with the tenant/actor fields every
// boundary entry point (CLI command, worker job dispatch) should attach
// before logging, per spec.md §5's per-request workspace binding.
func ForRequest(logger *slog.Logger, workspaceID, actorID string) *slog.Logger {
	return logger.With("workspace_id", workspaceID, "actor_id", actorID)
}
