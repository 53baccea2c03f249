package core

// run_limiter.go serializes load runs started through a shared process.
//
// The engine itself has no cross-run locking; callers that can start runs
// concurrently (the HTTP API) acquire a slot first. With capacity 1 a second
// run waits up to maxWait and then fails with ErrRunInProgress. A zero
// maxWait fails at once.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunInProgress is returned when no run slot frees up before the wait
// timeout expires.
var ErrRunInProgress = errors.New("load run already in progress")

// DefaultMaxConcurrentRuns is the default number of runs allowed at once.
const DefaultMaxConcurrentRuns = 1

// RunLimiter bounds concurrent runs using a semaphore.
type RunLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewRunLimiter creates a limiter that allows at most maxConcurrent runs.
// A non-positive maxConcurrent falls back to DefaultMaxConcurrentRuns; a
// non-positive maxWait means Acquire never waits.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait < 0 {
		maxWait = 0
	}

	return &RunLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a run slot.
// Returns ErrRunInProgress on timeout or ctx.Err() if ctx is done first.
// The caller MUST call Release when the run completes.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.maxWait == 0 {
		if l.TryAcquire() {
			return nil
		}
		return ErrRunInProgress
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
}

// TryAcquire acquires a slot without blocking.
func (l *RunLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot obtained by Acquire or TryAcquire.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot capacity.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// MaxWait returns how long Acquire waits for a slot.
func (l *RunLimiter) MaxWait() time.Duration {
	return l.maxWait
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
// Used during shutdown so an active run can commit its current entity.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
