package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ImportMetrics tracks catalog import runs and per-book outcomes.
type ImportMetrics struct {
	runs     *prometheus.CounterVec
	books    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewImportMetrics registers the import metrics on the provided registerer.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	if reg == nil {
		return &ImportMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "runs_total",
		Help:      "Import runs by terminal status.",
	}, []string{"status"})
	books := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "books_total",
		Help:      "Imported books by outcome (new, updated, skipped, failed).",
	}, []string{"outcome"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "attempts_total",
		Help:      "Import attempts by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of import runs including retries.",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})
	reg.MustRegister(runs, books, attempts, duration)
	return &ImportMetrics{
		runs:     runs,
		books:    books,
		attempts: attempts,
		duration: duration,
	}
}

func (m *ImportMetrics) IncRun(status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *ImportMetrics) AddBooks(outcome string, n int) {
	if m == nil || m.books == nil || n <= 0 {
		return
	}
	m.books.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

func (m *ImportMetrics) IncAttempt(result string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *ImportMetrics) ObserveRun(duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
}
