package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// Metrics tracks poll outcomes. It implements prometheus.Collector so it can
// be registered on any registry.
type Metrics struct {
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	lastSuccess   prometheus.Gauge
	devices       prometheus.Gauge
	skipped       *prometheus.CounterVec
	droppedEvents prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "froeling_polls_total",
			Help: "Poll cycles by outcome (success, failure, skipped)",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "froeling_poll_duration_seconds",
			Help:    "Duration of a poll cycle including login",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "froeling_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "froeling_devices",
			Help: "Records in the published snapshot",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "froeling_skipped_components_total",
			Help: "Components with an unrecognized type, by type",
		}, []string{"type"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "froeling_dropped_events_total",
			Help: "Events not delivered to a subscriber whose buffer was full",
		}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.polls.Describe(ch)
	m.pollDuration.Describe(ch)
	m.lastSuccess.Describe(ch)
	m.devices.Describe(ch)
	m.skipped.Describe(ch)
	m.droppedEvents.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.polls.Collect(ch)
	m.pollDuration.Collect(ch)
	m.lastSuccess.Collect(ch)
	m.devices.Collect(ch)
	m.skipped.Collect(ch)
	m.droppedEvents.Collect(ch)
}

func (m *Metrics) observeSuccess(at time.Time, took time.Duration, devices int, skippedTypes []string) {
	m.polls.WithLabelValues(outcomeSuccess).Inc()
	m.pollDuration.Observe(took.Seconds())
	m.lastSuccess.Set(float64(at.Unix()))
	m.devices.Set(float64(devices))
	for _, t := range skippedTypes {
		m.skipped.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) observeFailure(took time.Duration) {
	m.polls.WithLabelValues(outcomeFailure).Inc()
	m.pollDuration.Observe(took.Seconds())
}

func (m *Metrics) observeSkipped() {
	m.polls.WithLabelValues(outcomeSkipped).Inc()
}
