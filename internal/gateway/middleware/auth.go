package middleware

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/relaygate/core/internal/gateway/gwerr"
	"github.com/relaygate/core/internal/gateway/reqctx"
)

// AuthMiddleware gates every request not under an exempt path prefix
// behind a constant-time x-api-key comparison (spec.md §4.3).
type AuthMiddleware struct {
	header         string
	keys           [][]byte
	exemptPrefixes []string
}

// NewAuth builds the auth middleware. header defaults to "x-api-key"
// when empty.
func NewAuth(header string, keys []string, exemptPrefixes []string) *AuthMiddleware {
	if header == "" {
		header = "x-api-key"
	}
	kb := make([][]byte, len(keys))
	for i, k := range keys {
		kb[i] = []byte(k)
	}
	return &AuthMiddleware{header: header, keys: kb, exemptPrefixes: exemptPrefixes}
}

// Name implements Middleware.
func (m *AuthMiddleware) Name() string { return "auth" }

// OnRequest implements spec.md §4.3.
func (m *AuthMiddleware) OnRequest(_ context.Context, rc *reqctx.RequestContext) (ControlFlow, error) {
	for _, prefix := range m.exemptPrefixes {
		if prefix != "" && strings.HasPrefix(rc.URI, prefix) {
			return Continue(), nil
		}
	}

	candidate := []byte(rc.Headers.Get(m.header))
	if len(candidate) == 0 {
		return ShortCircuitWith(unauthorizedResponse()), nil
	}

	for _, key := range m.keys {
		if ConstantTimeEqual(candidate, key) {
			return Continue(), nil
		}
	}
	return ShortCircuitWith(unauthorizedResponse()), nil
}

// ConstantTimeEqual compares a and b in time proportional to the
// longer of the two lengths, never short-circuiting on the first
// differing byte or on a length mismatch (spec.md §4.3, §8).
func ConstantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var diff byte
	if len(a) != len(b) {
		diff = 1
	}
	for i := 0; i < n; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		diff |= ca ^ cb
	}
	return diff == 0
}

func unauthorizedResponse() *reqctx.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   string(gwerr.CodeUnauthorized),
		"message": "missing or invalid api key",
	})
	return reqctx.JSON(gwerr.New(gwerr.CodeUnauthorized, "").Status(), body)
}
