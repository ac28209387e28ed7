// Package thread provides the compositor's impl thread: one goroutine that
// runs posted closures in FIFO order. Everything that touches a scheduler is
// posted here, so the scheduler itself needs no locking.
package thread

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/ccsched/internal/logging"
)

// ErrStopped is returned when posting to a runner that has shut down.
var ErrStopped = errors.New("thread: runner stopped")

// Runner executes closures sequentially on a single goroutine.
type Runner struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	started  atomic.Bool
	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a runner. Call Start to begin executing tasks.
func New(logger *slog.Logger) *Runner {
	return &Runner{
		logger: logging.OrDiscard(logger).With("component", "impl-thread"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Post queues fn to run after every previously posted task.
func (r *Runner) Post(fn func()) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// PostDelayed queues fn after delay. Tasks posted after the runner stops are
// dropped.
func (r *Runner) PostDelayed(delay time.Duration, fn func()) {
	if delay <= 0 {
		_ = r.Post(fn)
		return
	}
	time.AfterFunc(delay, func() {
		if err := r.Post(fn); err != nil {
			r.logger.Debug("delayed task dropped", "error", err)
		}
	})
}

// Invoke runs fn on the runner and waits for it to return.
func (r *Runner) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := r.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Start runs queued tasks until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("thread: runner already started")
	}
	r.logger.Info("impl thread started")
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("impl thread stopping (context cancelled)")
			return ctx.Err()
		case <-r.stopCh:
			r.logger.Info("impl thread stopping (stop called)")
			return nil
		case <-r.wake:
			r.runQueued()
		}
	}
}

// Stop shuts the runner down and waits for the running task to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if !r.started.Load() {
		r.shutdown()
		return
	}
	<-r.doneCh
}

func (r *Runner) runQueued() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 || r.stopped {
			r.mu.Unlock()
			return
		}
		fn := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		fn()
	}
}

func (r *Runner) shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	dropped := len(r.queue)
	r.queue = nil
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn("dropped queued tasks on shutdown", "count", dropped)
	}
	close(r.doneCh)
}
