package forward

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hydrorelay"

// Metrics is optional, nil value records nothing.
type Metrics struct {
	deliveries  *prometheus.CounterVec
	queue       *prometheus.GaugeVec
	ingest      *prometheus.CounterVec
	readingsAge prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Completed delivery attempts by outcome.",
		}, []string{"device", "destination", "outcome"}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Readings waiting for destination, including one in flight.",
		}, []string{"device", "destination"}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_total",
			Help:      "Inbound messages by result.",
		}, []string{"result"}),
		readingsAge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "delivered_age_seconds",
			Help:      "Time from enqueue to successful delivery.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.queue, m.ingest, m.readingsAge)
	}
	return m
}

func (m *Metrics) delivery(d *Destination, o Outcome) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(d.Device, d.Config.String(), o.String()).Inc()
}

func (m *Metrics) delivered(seconds float64) {
	if m == nil {
		return
	}
	m.readingsAge.Observe(seconds)
}

func (m *Metrics) queueLength(d *Destination, n int) {
	if m == nil {
		return
	}
	m.queue.WithLabelValues(d.Device, d.Config.String()).Set(float64(n))
}

// Ingest counts inbound message by result label, see ingest.Result* constants.
func (m *Metrics) Ingest(result string) {
	if m == nil {
		return
	}
	m.ingest.WithLabelValues(result).Inc()
}
