package genealogy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments resolver runs. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	fetches    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	duplicates prometheus.Counter
}

// NewMetrics creates resolver collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlm",
			Subsystem: "genealogy",
			Name:      "store_fetches_total",
			Help:      "Children fetches issued by genealogy resolvers.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlm",
			Subsystem: "genealogy",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a genealogy view.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"variant"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mlm",
			Subsystem: "genealogy",
			Name:      "dropped_binary_children_total",
			Help:      "Children left out of a binary tree because their slot was already filled or unset.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.duration, m.duplicates)
	}
	return m
}

func (m *Metrics) observeFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

func (m *Metrics) timer(variant string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.duration.WithLabelValues(variant).Observe(time.Since(start).Seconds())
	}
}
