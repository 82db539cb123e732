// Package router implements the candidate-ranking strategy (spec.md
// §4.7). It keeps no per-upstream state: every call scores the
// candidates it's handed and returns a fresh ordering. Its only state
// is the seed counter behind the round-robin tie-break.
package router

import (
	"sort"
	"sync/atomic"
)

// Penalties configures the scoring weights. Zero values disable the
// corresponding term.
type Penalties struct {
	InFlightPenalty float64
	FailurePenalty  float64
}

// DefaultPenalties returns the spec's suggested weights.
func DefaultPenalties() Penalties {
	return Penalties{InFlightPenalty: 10, FailurePenalty: 50}
}

// Candidate is a point-in-time snapshot of one routable upstream, as
// built by the gateway core from UpstreamConfig + UpstreamStats +
// breaker state (spec.md §4.7's RoutingCandidate).
type Candidate struct {
	Name               string
	Weight             int64
	InFlight           int64
	ConsecutiveFailures int64
	AvgLatencyMicros   int64
	BreakerOpen        bool
	PreferLowLatency   bool
}

// Router ranks candidates. The seed counter increments once per
// ranking call so repeated calls with tied scores rotate in an
// approximately round-robin fashion.
type Router struct {
	penalties Penalties
	seed      uint64
}

// New builds a Router with the given penalty weights.
func New(penalties Penalties) *Router {
	return &Router{penalties: penalties}
}

type scored struct {
	name  string
	score float64
}

// Rank returns candidate upstream names ordered by descending score
// (spec.md §4.7). Stable ordering across calls is not guaranteed.
func (r *Router) Rank(candidates []Candidate) []string {
	seed := atomic.AddUint64(&r.seed, 1) - 1

	entries := make([]scored, len(candidates))
	for idx, c := range candidates {
		entries[idx] = scored{name: c.Name, score: r.score(c, seed, idx)}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func (r *Router) score(c Candidate, seed uint64, idx int) float64 {
	if c.BreakerOpen {
		return -1_000_000
	}

	weight := c.Weight
	if weight < 1 {
		weight = 1
	}
	rrBias := float64((seed+uint64(idx))%uint64(weight)) * 8

	score := float64(weight)*1000 + rrBias
	score -= float64(c.InFlight) * r.penalties.InFlightPenalty
	score -= float64(c.ConsecutiveFailures) * r.penalties.FailurePenalty
	if c.PreferLowLatency {
		score -= float64(c.AvgLatencyMicros) / 1000
	}
	return score
}
