// Package metrics exposes prometheus instruments for scans, recommit runs and
// index reconciliation. Every method is safe on a nil receiver so callers can
// run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagdex"

// Document outcomes of a recommit run.
const (
	ResultWritten   = "written"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Set groups the instruments of one process.
type Set struct {
	Recommit *Recommit
	Scan     *Scan
	Planner  *Planner
}

// New builds every instrument and registers it with reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Recommit: &Recommit{
			documents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recommit",
				Name:      "documents",
			}, []string{"result"}),
			batches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recommit",
				Name:      "batches",
			}),
			batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "recommit",
				Name:      "batch_duration_seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			}),
			aborts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recommit",
				Name:      "aborts",
			}),
		},
		Scan: &Scan{
			documents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "documents",
			}),
			unknownPaths: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "unknown_paths",
			}),
			tagUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dictionary",
				Name:      "tag_units",
			}, []string{"serial"}),
		},
		Planner: &Planner{
			indexes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "planner",
				Name:      "indexes",
			}, []string{"action"}),
		},
	}
	reg.MustRegister(
		s.Recommit.documents, s.Recommit.batches, s.Recommit.batchDuration, s.Recommit.aborts,
		s.Scan.documents, s.Scan.unknownPaths, s.Scan.tagUnits,
		s.Planner.indexes,
	)
	return s
}

// Recommit instruments the recommit pipeline.
type Recommit struct {
	documents     *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	aborts        prometheus.Counter
}

// Document counts one document outcome.
func (m *Recommit) Document(result string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(result).Inc()
}

// Batch records one completed window.
func (m *Recommit) Batch(d time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDuration.Observe(d.Seconds())
}

// Abort counts a run stopped by a fatal error or cancellation.
func (m *Recommit) Abort() {
	if m == nil {
		return
	}
	m.aborts.Inc()
}

// Scan instruments usage scans.
type Scan struct {
	documents    prometheus.Counter
	unknownPaths prometheus.Counter
	tagUnits     *prometheus.GaugeVec
}

// Documents adds n scanned documents.
func (m *Scan) Documents(n int) {
	if m == nil {
		return
	}
	m.documents.Add(float64(n))
}

// UnknownPaths adds n paths that referenced tags missing from the dictionary.
func (m *Scan) UnknownPaths(n int) {
	if m == nil {
		return
	}
	m.unknownPaths.Add(float64(n))
}

// TagUnits publishes the unit count of one tag.
func (m *Scan) TagUnits(serial string, units int) {
	if m == nil {
		return
	}
	m.tagUnits.WithLabelValues(serial).Set(float64(units))
}

// Planner instruments index reconciliation.
type Planner struct {
	indexes *prometheus.CounterVec
}

// Index counts one index action: created, dropped or kept.
func (m *Planner) Index(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.indexes.WithLabelValues(action).Add(float64(n))
}
