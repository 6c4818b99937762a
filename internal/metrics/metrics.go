// Package metrics exposes prometheus instrumentation for the engine.
//
// A nil *Metrics is valid and records nothing, so engine code can call the
// methods unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine collectors registered on one registerer.
type Metrics struct {
	documents        *prometheus.CounterVec
	searchNodes      *prometheus.HistogramVec
	searchDuration   *prometheus.HistogramVec
	searchPruned     prometheus.Counter
	nodesCreated     *prometheus.CounterVec
	nodesPruned      prometheus.Counter
	conflicts        prometheus.Counter
	suspensions      *prometheus.CounterVec
	converterRewrite *prometheus.CounterVec
}

// New registers the engine collectors on reg under namespace. A nil reg
// uses the default prometheus registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed by final status",
		}, []string{"status"}),
		searchNodes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_nodes",
			Help:      "Search nodes visited per interpretation search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~260k
		}, []string{"mode"}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Interpretation search duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}, []string{"mode"}),
		searchPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_pruned_total",
			Help:      "Search subtrees skipped by their bound",
		}),
		nodesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lattice_nodes_created_total",
			Help:      "Lattice nodes created by kind",
		}, []string{"kind"}),
		nodesPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lattice_nodes_pruned_total",
			Help:      "Lattice nodes removed by pruning",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpretation_conflicts_total",
			Help:      "Conflicts registered between interpretation options",
		}),
		suspensions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_suspensions_total",
			Help:      "Node suspension operations by operation and result",
		}, []string{"op", "result"}),
		converterRewrite: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "converter_edges_total",
			Help:      "Or-node parent edges changed by the converter",
		}, []string{"change"}),
	}
}

// DocumentProcessed counts a document with its final status.
func (m *Metrics) DocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(status).Inc()
}

// SearchCompleted records one interpretation search.
func (m *Metrics) SearchCompleted(mode string, visited, pruned int, d time.Duration) {
	if m == nil {
		return
	}
	m.searchNodes.WithLabelValues(mode).Observe(float64(visited))
	m.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.searchPruned.Add(float64(pruned))
}

// NodeCreated counts a new lattice node of the given kind.
func (m *Metrics) NodeCreated(kind string) {
	if m == nil {
		return
	}
	m.nodesCreated.WithLabelValues(kind).Inc()
}

// NodesPruned counts removed lattice nodes.
func (m *Metrics) NodesPruned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.nodesPruned.Add(float64(n))
}

// ConflictsRegistered counts new interpretation conflicts.
func (m *Metrics) ConflictsRegistered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

// Suspension counts a suspend or reload operation.
func (m *Metrics) Suspension(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.suspensions.WithLabelValues(op, result).Inc()
}

// ConverterEdges counts or-node parent edges added and removed by one
// conversion.
func (m *Metrics) ConverterEdges(added, removed int) {
	if m == nil {
		return
	}
	if added > 0 {
		m.converterRewrite.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		m.converterRewrite.WithLabelValues("removed").Add(float64(removed))
	}
}
