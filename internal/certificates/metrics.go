package certificates

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds certificate pipeline instrumentation. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	renders         *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	elementWarnings prometheus.Counter
	serialsIssued   *prometheus.CounterVec
	serialRetries   prometheus.Counter
	lifecycle       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certificates",
			Name:      "renders_total",
			Help:      "Certificate documents rendered, by outcome.",
		}, []string{"outcome"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "certificates",
			Name:      "render_duration_seconds",
			Help:      "Time spent composing a certificate document.",
			Buckets:   prometheus.DefBuckets,
		}),
		elementWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certificates",
			Name:      "element_warnings_total",
			Help:      "Template elements skipped while rendering.",
		}),
		serialsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certificates",
			Name:      "serials_issued_total",
			Help:      "Serial numbers issued, by target type.",
		}, []string{"target_type"}),
		serialRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certificates",
			Name:      "serial_retries_total",
			Help:      "Serial reservations retried after a store conflict.",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certificates",
			Name:      "lifecycle_total",
			Help:      "Certificate lifecycle runs, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.renders, m.renderDuration, m.elementWarnings, m.serialsIssued, m.serialRetries, m.lifecycle)
	}
	return m
}

func (m *Metrics) observeRender(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(outcome).Inc()
	m.renderDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) elementSkipped() {
	if m == nil {
		return
	}
	m.elementWarnings.Inc()
}

func (m *Metrics) serialIssued(target TargetType) {
	if m == nil {
		return
	}
	m.serialsIssued.WithLabelValues(string(target)).Inc()
}

func (m *Metrics) serialRetried() {
	if m == nil {
		return
	}
	m.serialRetries.Inc()
}

func (m *Metrics) lifecycleResult(result string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(result).Inc()
}
