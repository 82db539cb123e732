package middleware

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/relaygate/core/internal/gateway/gwerr"
	"github.com/relaygate/core/internal/gateway/reqctx"
)

// ValidationConfig configures ValidationMiddleware (spec.md §4.2).
type ValidationConfig struct {
	RequireHostHeader bool
	MaxHeaders        int
	AllowedMethods    []string
	MaxBodyBytes      int64
}

// ValidationMiddleware rejects malformed requests before auth and rate
// limiting run, per the fixed registration order in spec.md §4.1.
type ValidationMiddleware struct {
	cfg ValidationConfig
}

// NewValidation builds the validation middleware.
func NewValidation(cfg ValidationConfig) *ValidationMiddleware {
	return &ValidationMiddleware{cfg: cfg}
}

// Name implements Middleware.
func (m *ValidationMiddleware) Name() string { return "validation" }

// OnRequest implements spec.md §4.2's checks in order.
func (m *ValidationMiddleware) OnRequest(_ context.Context, rc *reqctx.RequestContext) (ControlFlow, error) {
	if m.cfg.RequireHostHeader && rc.Headers.Get("host") == "" {
		return ShortCircuitWith(validationResponse("missing host header")), nil
	}

	if m.cfg.MaxHeaders > 0 && headerCount(rc.Headers) > m.cfg.MaxHeaders {
		return ShortCircuitWith(validationResponse("too many headers")), nil
	}

	if len(m.cfg.AllowedMethods) > 0 && !containsUpper(m.cfg.AllowedMethods, rc.Method) {
		return ShortCircuitWith(validationResponse("method not allowed")), nil
	}

	if cl := rc.Headers.Get("content-length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n != int64(len(rc.Body)) {
			return ShortCircuitWith(validationResponse("content-length mismatch")), nil
		}
	}

	if m.cfg.MaxBodyBytes > 0 && int64(len(rc.Body)) > m.cfg.MaxBodyBytes {
		return ShortCircuitWith(payloadTooLargeResponse()), nil
	}

	return Continue(), nil
}

func headerCount(h reqctx.Header) int {
	n := 0
	for _, vs := range h {
		n += len(vs)
	}
	return n
}

func containsUpper(set []string, method string) bool {
	m := strings.ToUpper(method)
	for _, s := range set {
		if strings.ToUpper(s) == m {
			return true
		}
	}
	return false
}

func validationResponse(message string) *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodeValidation),
		"message": message,
	})
	return reqctx.JSON(gwerr.New(gwerr.CodeValidation, message).Status(), body)
}

func payloadTooLargeResponse() *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodePayloadTooLarge),
		"message": "request body exceeds the configured limit",
	})
	return reqctx.JSON(gwerr.New(gwerr.CodePayloadTooLarge, "").Status(), body)
}
