package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// CircuitState is the state of a circuit breaker
type CircuitState int

const (
	// StateClosed lets calls through
	StateClosed CircuitState = iota
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
	// StateOpen rejects calls until the timeout passes
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a provider is considered down
var ErrCircuitOpen = errors.NewStd("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	MaxFailures         int           // consecutive failures before opening
	Timeout             time.Duration // open duration before probing
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the production defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMaxRequests: 1}
}

// CircuitBreaker stops calling a push provider after repeated failures
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	provider string
	metrics  *metrics.PushMetrics

	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastStateChange  time.Time
	halfOpenRequests int
}

// NewCircuitBreaker returns a closed breaker for provider
func NewCircuitBreaker(config CircuitBreakerConfig, provider string, m *metrics.PushMetrics) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if config.HalfOpenMaxRequests < 1 {
		config.HalfOpenMaxRequests = 1
	}
	cb := &CircuitBreaker{config: config, provider: provider, metrics: m, lastStateChange: time.Now()}
	m.SetCircuitState(provider, int(StateClosed))
	return cb
}

// Call runs fn unless the breaker is open. Cancellation by the caller is
// not counted as a provider failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return fmt.Errorf("%s: %w", cb.provider, err)
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenRequests = 1
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.lastStateChange = time.Now()
	cb.metrics.SetCircuitState(cb.provider, int(next))

	GetLogger().Info("circuit breaker state transition",
		logger.String("provider", cb.provider),
		logger.String("old_state", prev.String()),
		logger.String("new_state", next.String()),
		logger.Int("consecutive_failures", cb.failures))
}
