// Package poll runs a check repeatedly on a fixed interval until it reports
// completion, fails, is cancelled or runs out of time. Checks never overlap:
// the next one is scheduled only after the previous one has returned.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("poll: max duration elapsed")

// Func performs one check. Returning done=true or a non-nil error stops the loop.
type Func func(ctx context.Context) (done bool, err error)

type Options struct {
	Interval time.Duration
	// MaxDuration caps the whole loop. Zero means the loop is bounded only by ctx.
	MaxDuration time.Duration
	// Delay the first check by one Interval instead of running it immediately.
	DelayFirst bool
}

// Handle controls one running loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	checks int
}

// Start launches the loop in its own goroutine.
func Start(ctx context.Context, opts Options, fn Func) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		err := h.run(runCtx, opts, fn)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return h
}

// Until runs the loop on the calling goroutine.
func Until(ctx context.Context, opts Options, fn Func) error {
	h := &Handle{}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	return h.run(runCtx, opts, fn)
}

func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop exits and returns its result.
func (h *Handle) Wait() error {
	<-h.done
	return h.Err()
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Checks is the number of completed calls to fn.
func (h *Handle) Checks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checks
}

func (h *Handle) run(ctx context.Context, opts Options, fn Func) error {
	if fn == nil {
		return errors.New("poll: check func is nil")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var deadline <-chan time.Time
	if opts.MaxDuration > 0 {
		deadlineTimer := time.NewTimer(opts.MaxDuration)
		defer deadlineTimer.Stop()
		deadline = deadlineTimer.C
	}

	first := time.Duration(0)
	if opts.DelayFirst {
		first = interval
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		case <-timer.C:
		}

		done, err := fn(ctx)
		h.mu.Lock()
		h.checks++
		h.mu.Unlock()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// A check that outlived the cap still counts as a timeout.
		select {
		case <-deadline:
			return ErrTimeout
		default:
		}
		timer.Reset(interval)
	}
}
