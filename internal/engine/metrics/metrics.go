// Package metrics exposes the execution engine's Prometheus counters
// and gauge (spec.md §6).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	platformmetrics "github.com/relaygate/core/internal/platform/metrics"
)

// Metrics holds the engine's fixed set of collectors.
type Metrics struct {
	Submitted  prometheus.Counter
	Started    prometheus.Counter
	Completed  prometheus.Counter
	Failed     prometheus.Counter
	TimedOut   prometheus.Counter
	QueueDepth prometheus.Gauge
}

// New registers the engine's collectors against reg.
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		Submitted:  platformmetrics.MustCounter(reg, "execution_submitted_total", "Executions submitted to the queue.").WithLabelValues(),
		Started:    platformmetrics.MustCounter(reg, "execution_started_total", "Executions a worker has started running.").WithLabelValues(),
		Completed:  platformmetrics.MustCounter(reg, "execution_completed_total", "Executions that reached a terminal status.").WithLabelValues(),
		Failed:     platformmetrics.MustCounter(reg, "execution_failed_total", "Executions that finished with status failed.").WithLabelValues(),
		TimedOut:   platformmetrics.MustCounter(reg, "execution_timed_out_total", "Executions that finished with status timed_out.").WithLabelValues(),
		QueueDepth: platformmetrics.MustGauge(reg, "execution_queue_depth", "Jobs currently sitting in the scheduler queue.").WithLabelValues(),
	}
}

// Submit records a successful enqueue.
func (m *Metrics) Submit() {
	m.Submitted.Inc()
	m.QueueDepth.Inc()
}

// Claim records a worker claiming a job: it bumps the started counter
// and decrements the queue-depth gauge. The decrement is not clamped,
// so the gauge is not held at zero or above.
func (m *Metrics) Claim() {
	m.Started.Inc()
	m.QueueDepth.Dec()
}

// Finish bumps the overall completion counter.
func (m *Metrics) Finish() { m.Completed.Inc() }

// FailedRun bumps the failure counter.
func (m *Metrics) FailedRun() { m.Failed.Inc() }

// TimedOutRun bumps the timeout counter.
func (m *Metrics) TimedOutRun() { m.TimedOut.Inc() }
