package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// LimiterStats is a point-in-time view of a limiter
type LimiterStats struct {
	Started   int64
	Completed int64
	Panicked  int64
	Rejected  int64
	Peak      int64
}

// Limiter runs fire-and-forget work on at most N goroutines. Work that cannot
// get a slot before its context ends is dropped and counted as rejected.
type Limiter struct {
	sem    chan struct{}
	active int64
	wg     sync.WaitGroup
	logger *zap.Logger

	started   int64
	completed int64
	panicked  int64
	rejected  int64
	peak      int64
}

// NewLimiter creates a limiter with maxConcurrent slots (at least one)
func NewLimiter(maxConcurrent int, logger *zap.Logger) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Limiter{
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

// Go waits for a free slot, then runs fn in its own goroutine. A panic in fn
// is recovered and logged; it never reaches the caller.
func (l *Limiter) Go(ctx context.Context, name string, fn func()) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		atomic.AddInt64(&l.rejected, 1)
		return fmt.Errorf("no slot for %s: %w", name, ctx.Err())
	}

	atomic.AddInt64(&l.started, 1)
	l.updatePeak(atomic.AddInt64(&l.active, 1))
	l.wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&l.panicked, 1)
				l.logger.Error("Recovered panic in background task",
					zap.String("task", name),
					zap.Any("panic", r))
			}
			atomic.AddInt64(&l.active, -1)
			atomic.AddInt64(&l.completed, 1)
			<-l.sem
			l.wg.Done()
		}()
		fn()
	}()

	return nil
}

// Wait blocks until every started task has returned
func (l *Limiter) Wait() {
	l.wg.Wait()
}

// Active returns the number of running tasks
func (l *Limiter) Active() int64 {
	return atomic.LoadInt64(&l.active)
}

// Stats returns the limiter counters
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Started:   atomic.LoadInt64(&l.started),
		Completed: atomic.LoadInt64(&l.completed),
		Panicked:  atomic.LoadInt64(&l.panicked),
		Rejected:  atomic.LoadInt64(&l.rejected),
		Peak:      atomic.LoadInt64(&l.peak),
	}
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peak)
		if current <= peak || atomic.CompareAndSwapInt64(&l.peak, peak, current) {
			return
		}
	}
}
