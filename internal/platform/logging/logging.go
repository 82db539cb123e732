// Package logging provides the structured logger shared by the gateway
// and execution-engine binaries.
//
// Logger is a type alias for slog.Logger so every layer can reference
// the logger type without importing log/slog directly, mirroring how
// the original hexagonal-API teacher split its logging contract out of
// log/slog.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger is a type alias for slog.Logger.
type Logger = slog.Logger

// Attr is a type alias for slog.Attr.
type Attr = slog.Attr

// Attribute constructors re-exported for callers that only import this package.
var (
	String   = slog.String
	Int      = slog.Int
	Int64    = slog.Int64
	Float64  = slog.Float64
	Bool     = slog.Bool
	Duration = slog.Duration
	Any      = slog.Any
)

// Log field key constants kept consistent across the gateway and engine.
const (
	KeyRequestID = "request_id"
	KeyService   = "service"
	KeyUpstream  = "upstream"
	KeyRoute     = "route"
	KeyStatus    = "status"
	KeyDuration  = "duration_ms"
)

type ctxKey struct{}

// WithRequestID returns a context carrying the request id for later
// log enrichment via FromContext.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext extracts the request id previously stored via
// WithRequestID, returning "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// FromContext returns base enriched with the request id carried in ctx,
// if any. Used so every log line inside a request's lifetime is
// correlated without threading a logger through every call.
func FromContext(ctx context.Context, base *Logger) *Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return base.With(KeyRequestID, requestID)
	}
	return base
}

// New builds the process-wide JSON logger. level is parsed case
// insensitively; unrecognized values fall back to info.
func New(service string, level string) *Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With(KeyService, service)
}
