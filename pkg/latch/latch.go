// Package latch provides a one-shot stop signal shared by cooperating goroutines.
//
// A Latch starts unset and can be set at most once. Every goroutine holding a
// reference observes the transition through Done, IsSet or a context derived with Bind.
// Setting an already-set latch is a no-op.
package latch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Latch is a process-wide one-shot flag. The zero value is not usable; call New.
type Latch struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	set    atomic.Bool
}

// New returns an unset latch.
func New() *Latch {
	ctx, cancel := context.WithCancel(context.Background())
	return &Latch{ctx: ctx, cancel: cancel}
}

// Set raises the latch. Only the first call has an effect; it reports whether
// this call performed the transition.
func (l *Latch) Set() bool {
	fired := false
	l.once.Do(func() {
		l.set.Store(true)
		l.cancel()
		fired = true
	})
	return fired
}

// IsSet reports whether the latch has been raised.
func (l *Latch) IsSet() bool {
	return l.set.Load()
}

// Done returns a channel closed when the latch is raised.
func (l *Latch) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Bind returns a context canceled when either parent is done or the latch is
// raised. The returned CancelFunc must be called to release resources.
func (l *Latch) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Sleep blocks for d or until the latch is raised or ctx is done, whichever
// comes first. It reports true when the full duration elapsed.
func (l *Latch) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !l.IsSet() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !l.IsSet()
	case <-l.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
