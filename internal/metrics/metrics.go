// Package metrics groups the Prometheus instruments used by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is registered once at startup and passed by pointer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Deliveries    *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	Subscribers   prometheus.Gauge
	Persist       *prometheus.CounterVec
}

// New registers all instruments with reg. Tests pass a fresh
// prometheus.NewRegistry() to stay isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetbot_cycles_total",
			Help: "Fan-out cycles run, by trigger (schedule, subscribe).",
		}, []string{"trigger"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leetbot_cycle_duration_seconds",
			Help:    "Wall time of a fan-out cycle including jittered delivery.",
			Buckets: []float64{1, 5, 30, 60, 300, 600, 1200},
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetbot_deliveries_total",
			Help: "Per-recipient deliveries, by result (ok, send_failed, pin_failed).",
		}, []string{"result"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetbot_fetches_total",
			Help: "Content provider fetches, by difficulty and result (ok, missing, error).",
		}, []string{"difficulty", "result"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leetbot_subscribers",
			Help: "Current number of subscribed chats.",
		}),
		Persist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetbot_subscriber_saves_total",
			Help: "Subscriber store saves, by result (ok, error, skipped).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Cycles, m.CycleDuration, m.Deliveries, m.Fetches, m.Subscribers, m.Persist)
	return m
}

func (m *Metrics) ObserveCycle(trigger string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(trigger).Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) ObserveDelivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetch(difficulty, result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(difficulty, result).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) ObservePersist(result string) {
	if m == nil {
		return
	}
	m.Persist.WithLabelValues(result).Inc()
}
