package output

import (
	"context"
	"sync"
	"time"
)

// Barrier counts outstanding post-processing tasks.
type Barrier struct {
	mu      sync.Mutex
	pending int
	zero    chan struct{}
}

// NewBarrier returns a barrier with no pending tasks.
func NewBarrier() *Barrier {
	zero := make(chan struct{})
	close(zero)
	return &Barrier{zero: zero}
}

// Add registers one task.
func (b *Barrier) Add() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		b.zero = make(chan struct{})
	}
	b.pending++
}

// Done completes one task, waking waiters when none remain.
func (b *Barrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		panic("output: Barrier.Done without Add")
	}
	b.pending--
	if b.pending == 0 {
		close(b.zero)
	}
}

// Pending returns the number of outstanding tasks.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Wait blocks until no task is pending, waking every tick to check ctx.
func (b *Barrier) Wait(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		b.mu.Lock()
		zero := b.zero
		pending := b.pending
		b.mu.Unlock()
		if pending == 0 {
			return nil
		}

		select {
		case <-zero:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
