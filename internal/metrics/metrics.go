// Package metrics exposes Prometheus collectors for graph execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agent_router"

// Compaction outcomes
const (
	CompactionSuccess = "success"
	CompactionSkipped = "skipped"
	CompactionFailed  = "failed"
)

// Recorder groups the collectors used by the engine and the nodes.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	nodeRuns         *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	invocations      *prometheus.CounterVec
	invocationTime   *prometheus.HistogramVec
	compactions      *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		nodeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_runs_total",
				Help:      "Total number of node executions",
			},
			[]string{"graph", "node", "outcome"}, // outcome: ok, fallback
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Histogram of node execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"graph", "node"},
		),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of graph invocations",
			},
			[]string{"mode", "status"}, // mode: invoke, stream
		),
		invocationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Histogram of whole invocation duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		compactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compactions_total",
				Help:      "Total number of history compaction attempts",
			},
			[]string{"outcome"}, // outcome: CompactionSuccess, CompactionSkipped, CompactionFailed
		),
		checkpointWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_writes_total",
				Help:      "Total number of checkpoint commits",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.nodeRuns,
			r.nodeDuration,
			r.invocations,
			r.invocationTime,
			r.compactions,
			r.checkpointWrites,
		)
	}
	return r
}

// ObserveNode records one node execution.
func (r *Recorder) ObserveNode(graph, node, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.nodeRuns.WithLabelValues(graph, node, outcome).Inc()
	r.nodeDuration.WithLabelValues(graph, node).Observe(d.Seconds())
}

// ObserveInvocation records a finished invocation.
func (r *Recorder) ObserveInvocation(mode, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.invocations.WithLabelValues(mode, status).Inc()
	r.invocationTime.WithLabelValues(mode).Observe(d.Seconds())
}

// Compaction counts a compaction attempt by outcome.
func (r *Recorder) Compaction(outcome string) {
	if r == nil {
		return
	}
	r.compactions.WithLabelValues(outcome).Inc()
}

// CheckpointWrite counts a checkpoint commit.
func (r *Recorder) CheckpointWrite(status string) {
	if r == nil {
		return
	}
	r.checkpointWrites.WithLabelValues(status).Inc()
}
