package core

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	cycleIDKey
	queryIDKey
)

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the attached logger, or slog.Default() if absent.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithCycle tags ctx with cycleID and derives a logger carrying cycle_id.
func WithCycle(ctx context.Context, cycleID string) (context.Context, *slog.Logger) {
	return withID(ctx, cycleIDKey, "cycle_id", cycleID)
}

// WithQuery tags ctx with queryID and derives a logger carrying query_id.
func WithQuery(ctx context.Context, queryID string) (context.Context, *slog.Logger) {
	return withID(ctx, queryIDKey, "query_id", queryID)
}

func withID(ctx context.Context, key ctxKey, field, id string) (context.Context, *slog.Logger) {
	logger := LoggerFromContext(ctx)
	if ctx == nil || id == "" {
		return ctx, logger
	}
	logger = logger.With(field, id)
	ctx = context.WithValue(ctx, key, id)
	return WithLogger(ctx, logger), logger
}

func CycleID(ctx context.Context) string {
	return stringValue(ctx, cycleIDKey)
}

func QueryID(ctx context.Context) string {
	return stringValue(ctx, queryIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
