package middleware

import (
	"context"
	"time"

	"github.com/relaygate/core/internal/gateway/reqctx"
	"github.com/relaygate/core/internal/platform/logging"
)

// LoggingMiddleware is always first in the pipeline. It records the
// request start on OnRequest and logs completion on OnResponse, which
// means it always sees the final response regardless of which exit
// path produced it (spec.md §4.1 registered order: logging first).
type LoggingMiddleware struct {
	logger *logging.Logger
}

// NewLogging builds the logging middleware.
func NewLogging(logger *logging.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Name implements Middleware.
func (m *LoggingMiddleware) Name() string { return "logging" }

// OnRequest always continues; it exists to bracket the request with a
// starting log line and to guarantee its slot in the executed list so
// OnResponse always fires.
func (m *LoggingMiddleware) OnRequest(ctx context.Context, rc *reqctx.RequestContext) (ControlFlow, error) {
	logging.FromContext(ctx, m.logger).Debug("request received",
		logging.String("method", rc.Method),
		logging.String("uri", rc.URI),
	)
	return Continue(), nil
}

// OnResponse logs the completed request: method, uri, chosen upstream,
// response status, and elapsed duration.
func (m *LoggingMiddleware) OnResponse(ctx context.Context, rc *reqctx.RequestContext, resp *reqctx.Response) error {
	logging.FromContext(ctx, m.logger).Info("request completed",
		logging.String("method", rc.Method),
		logging.String("uri", rc.URI),
		logging.String("upstream", rc.Upstream),
		logging.Int("status", resp.Status),
		logging.Duration("duration", rc.Elapsed().Truncate(time.Microsecond)),
	)
	return nil
}
