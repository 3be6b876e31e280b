package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config represents circuit breaker configuration
type Config struct {
	Name        string        `mapstructure:"name"`
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// FailureThreshold trips the breaker after this many consecutive failures
	FailureThreshold uint32 `mapstructure:"failure_threshold"`

	// IgnoreError marks errors that say nothing about the health of the
	// remote side (e.g. a document that does not exist).
	IgnoreError func(error) bool `mapstructure:"-"`
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Manager manages one circuit breaker per remote dependency
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *zap.Logger

	defaultConfig *Config
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with logging
type CircuitBreaker struct {
	*gobreaker.CircuitBreaker
	config *Config
	logger *zap.Logger
}

// NewManager creates a new circuit breaker manager
func NewManager(defaultConfig *Config, logger *zap.Logger) *Manager {
	if defaultConfig == nil {
		defaultConfig = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		breakers:      make(map[string]*CircuitBreaker),
		logger:        logger,
		defaultConfig: defaultConfig,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	m.mutex.RLock()
	if cb, exists := m.breakers[name]; exists {
		m.mutex.RUnlock()
		return cb
	}
	m.mutex.RUnlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := m.breakers[name]; exists {
		return cb
	}

	config := *m.defaultConfig
	config.Name = name

	cb := NewCircuitBreaker(&config, m.logger)
	m.breakers[name] = cb

	m.logger.Info("Circuit breaker created",
		zap.String("name", name),
		zap.Uint32("failure_threshold", config.FailureThreshold),
		zap.Duration("timeout", config.Timeout),
	)

	return cb
}

// States returns the current state of every breaker, keyed by name
func (m *Manager) States() map[string]string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		config: config,
		logger: logger,
	}

	cb.CircuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          config.Name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		IsSuccessful:  cb.isSuccessful,
		OnStateChange: cb.onStateChange,
	})

	return cb
}

// Call runs fn under breaker protection. It fails fast with
// gobreaker.ErrOpenState while the breaker is open.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := cb.CircuitBreaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		cb.logger.Debug("Circuit breaker execution failed",
			zap.String("name", cb.config.Name),
			zap.String("state", cb.State().String()),
			zap.Error(err),
		)
	}
	return err
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	threshold := cb.config.FailureThreshold
	if threshold == 0 {
		threshold = DefaultConfig().FailureThreshold
	}
	return counts.ConsecutiveFailures >= threshold
}

func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if cb.config.IgnoreError != nil && cb.config.IgnoreError(err) {
		return true
	}
	return false
}
