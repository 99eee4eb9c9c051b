// Package observability carries the ambient concerns of the gateway:
// structured logging, Prometheus metrics, and request-scoped context
// propagation, the same three pillars the teacher service wires through
// cmd/server/main.go and pkg/metrics.
package observability

import (
	"context"
	"log/slog"
	"os"
	"regexp"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	dbNameKey
)

// NewLogger builds a slog.Logger the way cmd/server/main.go does: a JSON
// handler over stdout, level configurable, falling back to text for local
// debugging.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// NewRequestID generates a fresh request id (google/uuid, as used throughout
// the teacher's request-tracking code).
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request id from ctx, or "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithDBName attaches the target database name to ctx.
func WithDBName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, dbNameKey, name)
}

// DBName extracts the target database name from ctx, or "" if absent.
func DBName(ctx context.Context) string {
	name, _ := ctx.Value(dbNameKey).(string)
	return name
}

// LoggerFromContext returns a logger enriched with request_id and db_name
// fields, matching the teacher's per-request logging convention.
func LoggerFromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if db := DBName(ctx); db != "" {
		l = l.With("db_name", db)
	}
	return l
}

// sqlStringLiteral matches a single-quoted SQL string literal, including
// doubled-quote escapes.
var sqlStringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)

// RedactSQLPreview truncates and sanitizes SQL text for log lines: never log
// full connection URIs or credentials, and cap length so logs stay readable.
func RedactSQLPreview(sql string) string {
	const maxLen = 200
	sql = sqlStringLiteral.ReplaceAllString(sql, "'?'")
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "…"
}
