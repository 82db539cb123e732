// Package middleware implements the gateway's ordered middleware
// pipeline with short-circuit semantics and reverse-order response
// post-processing (spec.md §4.1).
package middleware

import (
	"context"

	"github.com/relaygate/core/internal/gateway/reqctx"
	"github.com/relaygate/core/internal/platform/logging"
)

// ControlFlow is the result of a middleware's OnRequest call.
type ControlFlow struct {
	shortCircuit bool
	response     *reqctx.Response
}

// Continue lets the request chain proceed to the next middleware.
func Continue() ControlFlow { return ControlFlow{} }

// ShortCircuitWith stops the request chain and returns resp
// immediately, still subject to reverse-order on_response processing
// and hardening headers.
func ShortCircuitWith(resp *reqctx.Response) ControlFlow {
	return ControlFlow{shortCircuit: true, response: resp}
}

// IsShortCircuit reports whether this ControlFlow short-circuits.
func (c ControlFlow) IsShortCircuit() bool { return c.shortCircuit }

// Response returns the short-circuit response, or nil if continuing.
func (c ControlFlow) Response() *reqctx.Response { return c.response }

// Middleware is a named request hook. Implementations that also need
// to touch the outbound response implement ResponseHook; that method
// is optional, mirroring the teacher's optional interface segregation
// for transport-layer hooks.
type Middleware interface {
	Name() string
	OnRequest(ctx context.Context, rc *reqctx.RequestContext) (ControlFlow, error)
}

// ResponseHook is implemented by middlewares that need to post-process
// the outbound response (spec.md §4.1).
type ResponseHook interface {
	OnResponse(ctx context.Context, rc *reqctx.RequestContext, resp *reqctx.Response) error
}

// Outcome is the result of running the request-side chain.
type Outcome struct {
	// Executed holds, in registration order, the indices of
	// middlewares whose OnRequest returned Continue.
	Executed []int
	// ShortCircuit is the response returned by the middleware that
	// stopped the chain, or nil if every middleware continued.
	ShortCircuit *reqctx.Response
	// Err is the error returned by a middleware, if any. Mutually
	// exclusive with ShortCircuit.
	Err error
	// FailedAt is the index of the middleware whose OnRequest errored.
	FailedAt int
}

// Pipeline is the fixed, ordered collection of middlewares registered
// at construction time: logging -> validation -> auth -> (optional)
// rate-limit, per spec.md §4.1.
type Pipeline struct {
	middlewares []Middleware
}

// New builds a Pipeline from middlewares in registration order.
func New(mw ...Middleware) *Pipeline {
	cp := make([]Middleware, len(mw))
	copy(cp, mw)
	return &Pipeline{middlewares: cp}
}

// Middlewares returns the registered middlewares in order.
func (p *Pipeline) Middlewares() []Middleware {
	return p.middlewares
}

// RunRequest executes OnRequest for each middleware in order, stopping
// at the first short-circuit or error.
func (p *Pipeline) RunRequest(ctx context.Context, rc *reqctx.RequestContext) Outcome {
	executed := make([]int, 0, len(p.middlewares))
	for i, mw := range p.middlewares {
		cf, err := mw.OnRequest(ctx, rc)
		if err != nil {
			return Outcome{Executed: executed, Err: err, FailedAt: i}
		}
		if cf.IsShortCircuit() {
			return Outcome{Executed: executed, ShortCircuit: cf.Response()}
		}
		executed = append(executed, i)
	}
	return Outcome{Executed: executed}
}

// RunResponse feeds resp through on_response of every middleware whose
// index appears in executed, in reverse order. A failing on_response
// is logged and does not abort the response (spec.md §4.1).
func (p *Pipeline) RunResponse(ctx context.Context, rc *reqctx.RequestContext, resp *reqctx.Response, executed []int, logger *logging.Logger) {
	for i := len(executed) - 1; i >= 0; i-- {
		mw := p.middlewares[executed[i]]
		hook, ok := mw.(ResponseHook)
		if !ok {
			continue
		}
		if err := hook.OnResponse(ctx, rc, resp); err != nil && logger != nil {
			logger.Warn("middleware on_response failed",
				logging.String("middleware", mw.Name()),
				logging.String("error", err.Error()),
			)
		}
	}
}
