package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// Metrics exposes Prometheus collectors that report relay activity.
type Metrics struct {
	routeResults     *prometheus.CounterVec
	retryAttempts    *prometheus.CounterVec
	queueExhausted   prometheus.Counter
	deliveryDuration *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics registered with the global
// Prometheus registry. The collectors are created once so that building several
// services in one process does not panic on duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on the provided registerer. Collectors that
// are already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		routeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "route_results_total",
				Help:      "Per-target routing outcomes.",
			},
			[]string{"outcome", "location"},
		),
		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "retry_attempts_total",
				Help:      "Delivery attempts made for queued messages.",
			},
			[]string{"result"},
		),
		queueExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "queue_exhausted_total",
				Help:      "Queued messages given up after their retry budget.",
			},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Name:      "delivery_duration_seconds",
				Help:      "Duration of delivery calls to agents.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"location"},
		),
	}

	m.routeResults = register(reg, m.routeResults)
	m.retryAttempts = register(reg, m.retryAttempts)
	m.queueExhausted = register(reg, m.queueExhausted)
	m.deliveryDuration = register(reg, m.deliveryDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeRoute(outcome domain.RouteOutcome, location domain.Location) {
	if location == "" {
		location = "unknown"
	}
	m.routeResults.WithLabelValues(string(outcome), string(location)).Inc()
}

func (m *Metrics) observeRetry(result string) {
	m.retryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeExhausted() {
	m.queueExhausted.Inc()
}

func (m *Metrics) observeDelivery(location domain.Location, started time.Time) {
	m.deliveryDuration.WithLabelValues(string(location)).Observe(time.Since(started).Seconds())
}
