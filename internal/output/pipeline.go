// Package output carries compiler-produced files through post-processing
// to disk.
//
// The compiler hands each produced file to Pipeline.Save from whatever
// goroutine it runs on. Saves are processed in order by a single worker,
// counted by a Barrier, and written out by Pipeline.Close once the barrier
// drains.
package output

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultWaitTick is how long Close blocks between cancellation checks.
const DefaultWaitTick = 50 * time.Millisecond

// Pipeline connects the compiler to the Sink.
type Pipeline struct {
	sink    *Sink
	chain   Chain
	exec    SerialExecutor
	barrier *Barrier
	tick    time.Duration
	logger  *slog.Logger

	cancelled atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWaitTick overrides DefaultWaitTick.
func WithWaitTick(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.tick = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline returns a pipeline running chain before sink.
func NewPipeline(sink *Sink, chain Chain, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:    sink,
		chain:   chain,
		barrier: NewBarrier(),
		tick:    DefaultWaitTick,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sink returns the pipeline's sink.
func (p *Pipeline) Sink() *Sink {
	return p.sink
}

// Save queues obj for post-processing. It never blocks on processing.
func (p *Pipeline) Save(obj *Object) {
	p.barrier.Add()
	p.exec.Submit(func() {
		defer p.barrier.Done()
		if p.cancelled.Load() {
			p.sink.Abandon(obj)
			return
		}
		p.chain.Run(p.sink, obj)
		p.sink.Save(obj)
	})
}

// Pending returns the number of objects still being processed.
func (p *Pipeline) Pending() int {
	return p.barrier.Pending()
}

// Close waits for every saved object to be processed and flushes the sink.
// When ctx ends first, objects not yet processed skip the processors, the
// executor is still drained, nothing is flushed and every object saved so
// far ends Problematic. ctx's error is returned. The executor is idle when
// Close returns.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.barrier.Wait(ctx, p.tick)
	if err == nil {
		p.sink.Flush(ctx)
		return nil
	}

	p.cancelled.Store(true)
	p.logger.Warn("output pipeline interrupted", "pending", p.barrier.Pending(), "error", err)
	// The running task cannot be interrupted; queued ones return at once.
	_ = p.barrier.Wait(context.WithoutCancel(ctx), p.tick)
	p.sink.AbandonPending()
	return err
}
