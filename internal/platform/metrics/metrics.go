// Package metrics provides Prometheus registry construction helpers
// shared by the gateway and engine, following the registration-with-
// recovery pattern used by the teacher's internal/infra/observability
// package: registering the same collector twice (e.g. in tests) returns
// the existing collector instead of panicking.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry creates a Prometheus registry with Go runtime and process
// collectors already attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// MustCounter registers (or reuses) a counter vec.
func MustCounter(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	return mustRegisterCounter(reg, name, c)
}

// MustGauge registers (or reuses) a gauge vec.
func MustGauge(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	return mustRegisterGauge(reg, name, g)
}

// MustHistogram registers (or reuses) a histogram vec with the default buckets.
func MustHistogram(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: prometheus.DefBuckets}, labels)
	return mustRegisterHistogram(reg, name, h)
}

func mustRegisterCounter(reg *prometheus.Registry, name string, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(fmt.Errorf("metrics: register counter %s: %w", name, err))
	}
	return c
}

func mustRegisterGauge(reg *prometheus.Registry, name string, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		panic(fmt.Errorf("metrics: register gauge %s: %w", name, err))
	}
	return g
}

func mustRegisterHistogram(reg *prometheus.Registry, name string, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		panic(fmt.Errorf("metrics: register histogram %s: %w", name, err))
	}
	return h
}
