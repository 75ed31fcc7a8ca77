package errors

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned without calling fn while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

var errHalfOpenTooManyRequests = errors.New("too many requests in half-open")

// BreakerSettings tunes a CircuitBreaker. Zero values fall back to defaults.
type BreakerSettings struct {
	// ErrorThreshold is the failure ratio that opens the breaker.
	ErrorThreshold float64
	// MinRequests is the sample size required before the ratio is evaluated.
	MinRequests int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests int
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.ErrorThreshold <= 0 {
		s.ErrorThreshold = 0.5
	}
	if s.MinRequests <= 0 {
		s.MinRequests = 10
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = 3
	}
	return s
}

type CircuitBreaker struct {
	mu        sync.Mutex
	settings  BreakerSettings
	state     State
	failures  int
	successes int
	requests  int
	openedAt  time.Time
	now       func() time.Time
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{
		settings: settings.withDefaults(),
		state:    StateClosed,
		now:      time.Now,
	}
}

// Call runs fn unless the breaker is open. Only failures for which
// countable returns true are counted against the breaker; pass nil to
// count every failure.
func (cb *CircuitBreaker) Call(fn func() error, countable func(error) bool) error {
	if fn == nil {
		return nil
	}

	if err := cb.before(); err != nil {
		return err
	}

	callErr := fn()
	failed := callErr != nil && (countable == nil || countable(callErr))
	cb.after(failed)

	return callErr
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.settings.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.reset()
	}

	if cb.state == StateHalfOpen {
		if cb.requests >= cb.settings.HalfOpenRequests {
			return errHalfOpenTooManyRequests
		}
		// reserve the probe slot before releasing the lock
		cb.requests++
	}

	return nil
}

func (cb *CircuitBreaker) after(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		if failed {
			cb.trip()
			return
		}
		cb.successes++
		if cb.successes >= cb.settings.HalfOpenRequests {
			cb.state = StateClosed
			cb.reset()
		}
		return
	}

	cb.requests++
	if failed {
		cb.failures++
	} else {
		cb.successes++
	}

	if cb.requests >= cb.settings.MinRequests &&
		float64(cb.failures)/float64(cb.requests) >= cb.settings.ErrorThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.reset()
}
