package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/resilience"
)

// Metrics holds all Prometheus metrics for the resilience core. It
// implements resilience.BreakerObserver and resilience.CoordinatorObserver
// so it can be subscribed directly to the registry and coordinator.
type Metrics struct {
	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Degradation metrics
	DegradationLevel prometheus.Gauge
	ServiceState     *prometheus.GaugeVec
	WriteQueueDepth  prometheus.Gauge
	WritesQueued     *prometheus.CounterVec
	WritesReplayed   *prometheus.CounterVec
	WritesDropped    *prometheus.CounterVec

	// Database metrics
	DBPoolOpen      *prometheus.GaugeVec
	DBPoolIdle      *prometheus.GaugeVec
	DBPoolInUse     *prometheus.GaugeVec
	DBPoolWaiting   *prometheus.GaugeVec
	QueryDuration   *prometheus.HistogramVec
	QueryRetries    *prometheus.CounterVec
	QueriesRouted   *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "altergolden",
		Enabled:   true,
	}
}

// NewMetrics creates all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	ns := config.Namespace

	return &Metrics{
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Total number of requests rejected by an open circuit breaker",
			},
			[]string{"name"},
		),
		DegradationLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "degradation_level",
				Help:      "System degradation level (0=normal, 1=degraded, 2=critical, 3=offline)",
			},
		),
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "service_state",
				Help:      "Service state (0=healthy, 1=degraded, 2=unavailable)",
			},
			[]string{"service"},
		),
		WriteQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "write_queue_depth",
				Help:      "Current number of deferred writes awaiting replay",
			},
		),
		WritesQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "writes_queued_total",
				Help:      "Total number of writes deferred to the queue",
			},
			[]string{"service"},
		),
		WritesReplayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "writes_replayed_total",
				Help:      "Total number of deferred writes successfully replayed",
			},
			[]string{"service"},
		),
		WritesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "writes_dropped_total",
				Help:      "Total number of deferred writes dropped",
			},
			[]string{"service"},
		),
		DBPoolOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "db_pool_open_connections",
				Help:      "Open database connections",
			},
			[]string{"pool"},
		),
		DBPoolIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "db_pool_idle_connections",
				Help:      "Idle database connections",
			},
			[]string{"pool"},
		),
		DBPoolInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "db_pool_in_use_connections",
				Help:      "Database connections currently in use",
			},
			[]string{"pool"},
		),
		DBPoolWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "db_pool_waiting_total",
				Help:      "Cumulative count of connection waits (pool exhaustion signal)",
			},
			[]string{"pool"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "pool"},
		),
		QueryRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "db_query_retries_total",
				Help:      "Total number of query retry attempts",
			},
			[]string{"operation"},
		),
		QueriesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "db_queries_routed_total",
				Help:      "Queries routed by destination pool",
			},
			[]string{"pool"},
		),
	}
}

// Register registers all metrics with the given registerer
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.DegradationLevel,
		m.ServiceState,
		m.WriteQueueDepth,
		m.WritesQueued,
		m.WritesReplayed,
		m.WritesDropped,
		m.DBPoolOpen,
		m.DBPoolIdle,
		m.DBPoolInUse,
		m.DBPoolWaiting,
		m.QueryDuration,
		m.QueryRetries,
		m.QueriesRouted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// OnBreakerStateChange implements resilience.BreakerObserver
func (m *Metrics) OnBreakerStateChange(name string, from, to resilience.State, reason string) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// OnBreakerRejection implements resilience.BreakerObserver
func (m *Metrics) OnBreakerRejection(name string) {
	m.BreakerRejections.WithLabelValues(name).Inc()
}

// OnServiceStateChange implements resilience.CoordinatorObserver
func (m *Metrics) OnServiceStateChange(service string, from, to resilience.ServiceState, reason string) {
	m.ServiceState.WithLabelValues(service).Set(float64(to))
}

// OnLevelChange implements resilience.CoordinatorObserver
func (m *Metrics) OnLevelChange(from, to resilience.DegradationLevel) {
	m.DegradationLevel.Set(float64(to))
}

// OnWriteQueued implements resilience.CoordinatorObserver
func (m *Metrics) OnWriteQueued(service string, depth int) {
	m.WritesQueued.WithLabelValues(service).Inc()
	m.WriteQueueDepth.Set(float64(depth))
}

// OnWriteReplayed implements resilience.CoordinatorObserver
func (m *Metrics) OnWriteReplayed(service, operation string) {
	m.WritesReplayed.WithLabelValues(service).Inc()
}

// OnWriteDropped implements resilience.CoordinatorObserver
func (m *Metrics) OnWriteDropped(service, operation, reason string) {
	m.WritesDropped.WithLabelValues(service).Inc()
}

// ObservePool records one pool health sample
func (m *Metrics) ObservePool(pool string, open, idle, inUse int, waiting int64) {
	m.DBPoolOpen.WithLabelValues(pool).Set(float64(open))
	m.DBPoolIdle.WithLabelValues(pool).Set(float64(idle))
	m.DBPoolInUse.WithLabelValues(pool).Set(float64(inUse))
	m.DBPoolWaiting.WithLabelValues(pool).Set(float64(waiting))
}
