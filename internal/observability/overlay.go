package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OverlayMetrics instruments the overlay store and session registry. It
// satisfies overlay.Metrics.
type OverlayMetrics struct {
	records         prometheus.Gauge
	persists        *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// NewOverlayMetrics registers the overlay collectors. sessions, when set,
// is sampled on every scrape.
func NewOverlayMetrics(registerer prometheus.Registerer, sessions func() int) *OverlayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &OverlayMetrics{
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agenda_overlay_records",
			Help: "Temporary records currently held by the overlay store.",
		}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agenda_overlay_persist_total",
			Help: "Mirror writes by outcome.",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agenda_overlay_persist_failures_total",
			Help: "Mirror writes that failed and left the store dirty.",
		}),
	}
	registerer.MustRegister(m.records, m.persists, m.persistFailures)
	if sessions != nil {
		registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "agenda_sessions_active",
			Help: "Live operator sessions.",
		}, func() float64 { return float64(sessions()) }))
	}
	return m
}

// ObservePersist records one mirror write.
func (m *OverlayMetrics) ObservePersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persists.WithLabelValues("error").Inc()
		m.persistFailures.Inc()
		return
	}
	m.persists.WithLabelValues("ok").Inc()
}

// SetRecords updates the record gauge.
func (m *OverlayMetrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}
