// Package circuitbreaker stops calling a failing dependency for a while and
// probes it again before letting traffic through.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the operation while the breaker is
// open or its half-open probes are all in flight.
var ErrOpen = errors.New("circuit breaker is open")

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
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	OpenTimeout      time.Duration // how long to stay open before probing
	MaxHalfOpen      int           // concurrent probes allowed while half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxHalfOpen:      1,
	}
}

type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int
	openedAt    time.Time
	lastFailure time.Time

	onStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxHalfOpen < 1 {
		cfg.MaxHalfOpen = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to run, on its own goroutine, after every
// transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Do runs fn unless the breaker rejects it. fn's error is returned as is.
func (b *Breaker) Do(fn func() error) error {
	_, err := Call(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call is Do for operations that produce a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if !b.acquire() {
		return zero, ErrOpen
	}

	result, err := fn()
	b.record(err == nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transitionLocked(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.cfg.MaxHalfOpen {
			return false
		}
		b.inFlight++
	}
	return true
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	halfOpen := b.state == StateHalfOpen
	if halfOpen && b.inFlight > 0 {
		b.inFlight--
	}

	if !ok {
		b.lastFailure = b.now()
		b.successes = 0
		b.failures++
		if halfOpen || b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
		return
	}

	b.failures = 0
	if halfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	if fn := b.onStateChange; fn != nil {
		go fn(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

type Stats struct {
	State       State
	Failures    int
	Successes   int
	InFlight    int
	LastFailure time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		InFlight:    b.inFlight,
		LastFailure: b.lastFailure,
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
}
