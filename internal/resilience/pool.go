package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool caps how many calls run at once using a weighted semaphore.
// A nil Pool runs every call directly.
type Pool struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewPool creates a Pool that allows at most limit concurrent calls.
func NewPool(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Run waits for a slot, runs fn, and releases the slot. It returns ctx.Err()
// if ctx ends while waiting.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Limit returns the configured concurrency.
func (p *Pool) Limit() int64 {
	if p == nil {
		return 0
	}
	return p.limit
}
