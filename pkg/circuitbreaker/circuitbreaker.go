package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open or its half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

type Stats struct {
	State           State
	Failures        int
	Successes       int
	Rejected        uint64
	LastFailure     time.Time
	LastStateChange time.Time
}

type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	inFlight      int
	rejected      uint64
	lastFailure   time.Time
	changedAt     time.Time
	onStateChange func(from, to State)
}

type Option func(*CircuitBreaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange registers a callback invoked synchronously, outside the
// breaker lock, after every transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

func New(cfg Config, opts ...Option) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	cb.changedAt = cb.now()
	return cb
}

// Execute runs fn unless the breaker rejects the call. Context
// cancellation is not counted as a failure of the guarded dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var transition func()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.changedAt) < cb.cfg.OpenTimeout {
			cb.rejected++
			cb.mu.Unlock()
			return ErrOpen
		}
		transition = cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxCalls {
			cb.rejected++
			cb.mu.Unlock()
			if transition != nil {
				transition()
			}
			return ErrOpen
		}
	}
	cb.inFlight++
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	cb.inFlight--
	var transition func()

	switch {
	case err == nil:
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				transition = cb.setState(StateClosed)
			}
		}
	case errors.Is(err, context.Canceled):
	default:
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			transition = cb.setState(StateOpen)
		}
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// setState must be called with mu held; the returned func fires the
// callback and must be called after unlocking.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.changedAt = cb.now()
	cb.failures = 0
	cb.successes = 0

	if cb.onStateChange == nil {
		return nil
	}
	fn := cb.onStateChange
	return func() { fn(from, to) }
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		Rejected:        cb.rejected,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.changedAt,
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.setState(StateClosed)
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
}
