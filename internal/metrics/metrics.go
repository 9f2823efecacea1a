// Package metrics holds the prometheus collectors for engine activity. They
// register with the default registry and are served by the display server's
// /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casegraph_entities_created_total",
		Help: "Entities created by add or ingest",
	})

	DuplicatesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casegraph_duplicates_resolved_total",
		Help: "Add requests answered without a decision, by reason (exact, forced)",
	}, []string{"reason"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casegraph_decisions_total",
		Help: "Near-duplicate decisions applied, by kind",
	}, []string{"kind"})

	Merges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casegraph_merges_total",
		Help: "Entities merged into another",
	})

	Unmerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casegraph_unmerges_total",
		Help: "Entities restored from merge history",
	})

	UndoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casegraph_undo_depth",
		Help: "Snapshots currently held by the undo history",
	})

	UndoRestores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casegraph_undo_restores_total",
		Help: "Undo operations applied",
	})

	GraphSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "casegraph_graph_size",
		Help: "Current table sizes, by table (entities, relationships, clusters)",
	}, []string{"table"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casegraph_operation_duration_seconds",
		Help:    "Duration of engine mutations",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25},
	}, []string{"op"})
)

// ObserveSize publishes table sizes.
func ObserveSize(entities, relationships, clusters int) {
	GraphSize.WithLabelValues("entities").Set(float64(entities))
	GraphSize.WithLabelValues("relationships").Set(float64(relationships))
	GraphSize.WithLabelValues("clusters").Set(float64(clusters))
}

// Time starts a timer for op; call the result when the operation ends.
func Time(op string) func() {
	start := time.Now()
	return func() {
		OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
