package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	updates     *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

// New creates a Prometheus metrics recorder registered on reg (the default registry when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_updates_total",
				Help: "Quote updates accepted into the replay cache",
			},
			[]string{"source", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_subscribers",
			Help: "Currently registered hub subscriptions",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_dropped_deliveries_total",
			Help: "Updates discarded because a buffer was full",
		}),
	}
}

// RecordUpdate records an update accepted from source.
func (r *Recorder) RecordUpdate(source, symbol string) {
	r.updates.WithLabelValues(source, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

func (r *Recorder) RecordDropped(n int) {
	if n > 0 {
		r.dropped.Add(float64(n))
	}
}
