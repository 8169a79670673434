package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gbaeke/flowkit"
)

const namespace = "flowkit"

// Metrics is an observer that counts node executions, retries and failures
// and records node durations. Register it with a Prometheus registry before
// use.
type Metrics struct {
	NodeRuns     *prometheus.CounterVec
	NodeRetries  *prometheus.CounterVec
	NodeFailures *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	FlowRuns     *prometheus.CounterVec
	FlowDuration prometheus.Histogram
}

// NewMetrics creates the metric set without registering it.
func NewMetrics() *Metrics {
	return &Metrics{
		NodeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "runs_total",
				Help:      "Total number of completed node runs",
			},
			[]string{"node", "action"},
		),

		NodeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "retries_total",
				Help:      "Total number of exec retries",
			},
			[]string{"node"},
		),

		NodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "failures_total",
				Help:      "Total number of node failures that aborted a run",
			},
			[]string{"node"},
		),

		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "fallbacks_total",
				Help:      "Total number of fallbacks used after retries ran out",
			},
			[]string{"node"},
		),

		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "duration_seconds",
				Help:      "Node run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),

		FlowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "flow",
				Name:      "runs_total",
				Help:      "Total number of flow runs by outcome",
			},
			[]string{"outcome"},
		),

		FlowDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "flow",
				Name:      "duration_seconds",
				Help:      "Flow run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
	}
}

// Register adds every metric to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.NodeRuns, m.NodeRetries, m.NodeFailures, m.Fallbacks,
		m.NodeDuration, m.FlowRuns, m.FlowDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register flowkit metrics: %w", err)
		}
	}
	return nil
}

// Notify implements flowkit.Observer.
func (m *Metrics) Notify(_ context.Context, e flowkit.Event) {
	switch e.Type {
	case flowkit.EventNodeEnd:
		m.NodeRuns.WithLabelValues(e.Node, string(e.Action)).Inc()
		m.NodeDuration.WithLabelValues(e.Node).Observe(e.Elapsed.Seconds())
	case flowkit.EventNodeRetry:
		m.NodeRetries.WithLabelValues(e.Node).Inc()
	case flowkit.EventNodeFallback:
		m.Fallbacks.WithLabelValues(e.Node).Inc()
	case flowkit.EventNodeError:
		m.NodeFailures.WithLabelValues(e.Node).Inc()
		m.NodeDuration.WithLabelValues(e.Node).Observe(e.Elapsed.Seconds())
	case flowkit.EventFlowEnd:
		m.FlowRuns.WithLabelValues(Outcome(e.Err)).Inc()
		m.FlowDuration.Observe(e.Elapsed.Seconds())
	}
}
