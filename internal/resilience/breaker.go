// Package resilience guards calls to the generation backend.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
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
		return "half_open"
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive counted failures and rejects
// calls until cooldown has passed, then lets calls through half-open. One
// success closes it; one failure while half-open reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	// counts decides whether an error trips the breaker. Nil counts every error.
	counts   func(error) bool
	onChange func(from, to State)
}

// NewBreaker creates a breaker that opens after maxFailures consecutive failures.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// CountIf restricts which errors count as failures. Errors it rejects are
// returned to the caller without affecting the breaker.
func (b *Breaker) CountIf(fn func(error) bool) *Breaker {
	b.counts = fn
	return b
}

// OnStateChange registers a hook called (outside the lock) on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) *Breaker {
	b.onChange = fn
	return b
}

// State returns the current position, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if ok, from, to := b.admit(); !ok {
		return ErrCircuitOpen
	} else if from != to {
		b.notify(from, to)
	}

	err := fn()

	b.mu.Lock()
	from := b.state
	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case b.counts == nil || b.counts(err):
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
	return err
}

func (b *Breaker) admit() (ok bool, from, to State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, from, from
		}
		b.state = StateHalfOpen
	}
	return true, from, b.state
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
