package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`

	ServiceName    string `mapstructure:"-"`
	ServiceVersion string `mapstructure:"-"`
	Environment    string `mapstructure:"-"`

	CollectGoMetrics bool `mapstructure:"-"`
}

// DefaultConfig returns a default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		Path:             "/metrics",
		Namespace:        "servevlc",
		ServiceName:      "sync-service",
		ServiceVersion:   "unknown",
		Environment:      "development",
		CollectGoMetrics: true,
	}
}

// Manager manages Prometheus metrics for the sync service
type Manager struct {
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	syncActionsTotal *prometheus.CounterVec
	syncErrorsTotal  *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewManager creates a new metrics manager
func NewManager(config *Config, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	if err := m.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Manager) initializeMetrics() error {
	constLabels := prometheus.Labels{
		"service":     m.config.ServiceName,
		"version":     m.config.ServiceVersion,
		"environment": m.config.Environment,
	}

	m.syncActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Name:        "sync_actions_total",
			Help:        "Replication actions applied, by entity family and direction",
			ConstLabels: constLabels,
		},
		[]string{"family", "action"},
	)

	m.syncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Name:        "sync_errors_total",
			Help:        "Per-item reconciliation failures",
			ConstLabels: constLabels,
		},
		[]string{"family"},
	)

	m.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Name:        "sync_steps_total",
			Help:        "Reconciliation steps run, by outcome status",
			ConstLabels: constLabels,
		},
		[]string{"operation", "status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Name:        "sync_step_duration_seconds",
			Help:        "Duration of reconciliation steps",
			Buckets:     []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "endpoint"},
	)

	collectorsToRegister := []prometheus.Collector{
		m.syncActionsTotal,
		m.syncErrorsTotal,
		m.stepsTotal,
		m.stepDuration,
		m.requestsTotal,
		m.requestDuration,
	}
	if m.config.CollectGoMetrics {
		collectorsToRegister = append(collectorsToRegister,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, c := range collectorsToRegister {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// RecordAction counts n replication actions for a family
func (m *Manager) RecordAction(family, action string, n int) {
	if n <= 0 {
		return
	}
	m.syncActionsTotal.WithLabelValues(family, action).Add(float64(n))
}

// RecordErrors counts per-item failures for a family
func (m *Manager) RecordErrors(family string, n int) {
	if n <= 0 {
		return
	}
	m.syncErrorsTotal.WithLabelValues(family).Add(float64(n))
}

// ObserveStep records the outcome and duration of one reconciliation step
func (m *Manager) ObserveStep(operation, status string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(operation, status).Inc()
	m.stepDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRequest records an HTTP request
func (m *Manager) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, endpoint, fmt.Sprintf("%d", statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the scrape handler
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
