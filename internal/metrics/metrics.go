// Package metrics exposes the Prometheus collectors for the consistency
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prism"

// Registry is the global Prometheus registry for all metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Regenerations counts persisted document regenerations, cascaded ones
// included.
var Regenerations = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "regenerations_total",
		Help:      "Number of persisted document regenerations",
	},
)

// CascadeSize records how many additional resources a top-level save
// regenerated.
var CascadeSize = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cascade_size",
		Help:      "Resources regenerated per cascade beyond the initial save",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	},
)

// IdentifierConflicts counts DuplicatedIdentifier rejections.
var IdentifierConflicts = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identifier_conflicts_total",
		Help:      "Number of rejected duplicate (scheme, value) identifier claims",
	},
)

// ChangesetsPerformed counts changeset outcomes by final state.
var ChangesetsPerformed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changesets_total",
		Help:      "Changeset perform attempts by outcome",
	},
	[]string{"outcome"},
)

// ChangesetOperations counts applied operations by kind and result.
var ChangesetOperations = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changeset_operations_total",
		Help:      "Changeset operations by op and result",
	},
	[]string{"op", "result"},
)
