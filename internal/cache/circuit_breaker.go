package cache

import (
	"errors"
	"sync"
	"time"
)

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

type CircuitBreakerConfig struct {
	MaxFailures      int           `json:"max_failures"`
	Timeout          time.Duration `json:"timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker stops calling a failing dependency for Timeout after
// MaxFailures consecutive errors, then lets HalfOpenMaxCalls probes through;
// that many successes close it again and any failure reopens it.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	probes   int
	openedAt time.Time

	cfg CircuitBreakerConfig
	now func() time.Time
}

func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{cfg: *config, now: time.Now}
}

// Execute runs fn unless the breaker is open. ErrCacheMiss is not a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitBreakerOpen
	}

	err := fn()
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			return false
		}
		cb.state = CircuitBreakerHalfOpen
		cb.probes = 0
		return true
	case CircuitBreakerHalfOpen:
		return cb.probes < cb.cfg.HalfOpenMaxCalls
	default:
		return true
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitBreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.state = CircuitBreakerOpen
		cb.openedAt = cb.now()
		cb.probes = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.HalfOpenMaxCalls {
			cb.state = CircuitBreakerClosed
			cb.failures = 0
			cb.probes = 0
		}
	case CircuitBreakerClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"state":           cb.state.String(),
		"failure_count":   cb.failures,
		"probe_count":     cb.probes,
		"opened_at":       cb.openedAt.Unix(),
		"max_failures":    cb.cfg.MaxFailures,
		"timeout_seconds": cb.cfg.Timeout.Seconds(),
	}
}
