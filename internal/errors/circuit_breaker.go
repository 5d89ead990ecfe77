package errors

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// Closed means the circuit is operating normally.
	Closed CircuitState = iota
	// Open means the circuit has tripped and requests are blocked.
	Open
	// HalfOpen means the circuit is testing if it can close again.
	HalfOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"` // wait before half-open
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops scraping a target that keeps failing.
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig
	state  CircuitState

	failures        int
	successes       int
	lastFailureTime time.Time
	probing         bool

	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  Closed,
	}
}

// OnStateChange sets a callback for state changes.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow checks if a request should be allowed. While half-open only one probe
// is let through at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.lastFailureTime) >= cb.config.Timeout {
			cb.transitionTo(HalfOpen)
			cb.probing = true
			return true
		}
		return false
	case HalfOpen:
		if !cb.probing {
			cb.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(Closed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(Open)
		}
	case HalfOpen:
		cb.probing = false
		cb.transitionTo(Open)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0

	if cb.onStateChange != nil {
		cb.onStateChange(oldState, newState)
	}
}

// release ends a half-open probe without counting its outcome.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
	cb.probing = false
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:           cb.state.String(),
		Failures:        cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitOpenError is returned when the circuit is open.
type CircuitOpenError struct {
	Host  string
	State CircuitState
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return "circuit breaker for " + e.Host + " is " + e.State.String()
}

// HostCircuitBreakers keeps one breaker per target host.
type HostCircuitBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	onChange func(host string, from, to CircuitState)
}

// NewHostCircuitBreakers creates a new host circuit breaker manager.
func NewHostCircuitBreakers(config CircuitBreakerConfig) *HostCircuitBreakers {
	return &HostCircuitBreakers{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// OnStateChange sets a callback invoked for every breaker created afterwards.
func (hcb *HostCircuitBreakers) OnStateChange(fn func(host string, from, to CircuitState)) {
	hcb.mu.Lock()
	hcb.onChange = fn
	hcb.mu.Unlock()
}

// Get returns the circuit breaker for a host, creating one if needed.
func (hcb *HostCircuitBreakers) Get(host string) *CircuitBreaker {
	hcb.mu.RLock()
	cb, ok := hcb.breakers[host]
	hcb.mu.RUnlock()
	if ok {
		return cb
	}

	hcb.mu.Lock()
	defer hcb.mu.Unlock()

	if cb, ok = hcb.breakers[host]; ok {
		return cb
	}

	cb = NewCircuitBreaker(hcb.config)
	if fn := hcb.onChange; fn != nil {
		cb.onStateChange = func(from, to CircuitState) { fn(host, from, to) }
	}
	hcb.breakers[host] = cb
	return cb
}

// Execute runs fn through the breaker for host.
func (hcb *HostCircuitBreakers) Execute(host string, fn func() error) error {
	cb := hcb.Get(host)
	if !cb.Allow() {
		return &CircuitOpenError{Host: host, State: cb.State()}
	}

	if err := fn(); err != nil {
		// Caller mistakes say nothing about the target's health.
		if IsType(err, Validation) || IsType(err, Cancelled) {
			cb.release()
			return err
		}
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// AllStats returns statistics for all hosts.
func (hcb *HostCircuitBreakers) AllStats() map[string]CircuitBreakerStats {
	hcb.mu.RLock()
	defer hcb.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(hcb.breakers))
	for host, cb := range hcb.breakers {
		stats[host] = cb.Stats()
	}
	return stats
}
