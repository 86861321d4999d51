package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Task is a unit of work. It must return promptly once ctx is done.
type Task[T any] func(ctx context.Context) (T, error)

// PanicError is returned for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerpool: task panicked: %v", e.Value)
}

// Handle tracks a submitted task.
type Handle[T any] struct {
	ID string

	ctx    context.Context
	cancel context.CancelCauseFunc

	once     sync.Once
	done     chan struct{}
	value    T
	err      error
	started  time.Time
	duration time.Duration
}

// Done is closed once the task has a result.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the task has a result.
func (h *Handle[T]) Result() (T, error) {
	<-h.done
	return h.value, h.err
}

// Duration is how long the task ran; zero if it never started.
func (h *Handle[T]) Duration() time.Duration {
	<-h.done
	return h.duration
}

// Cancel cancels the task with cause. A queued task reports cause without
// running; a running task sees its context cancelled.
func (h *Handle[T]) Cancel(cause error) {
	h.cancel(cause)
}

func (h *Handle[T]) complete(v T, err error) {
	h.once.Do(func() {
		h.value, h.err = v, err
		if !h.started.IsZero() {
			h.duration = time.Since(h.started)
		}
		close(h.done)
	})
}

// Submit queues task on r. The task context is derived from ctx, cancelled
// when r is released, and bounded by timeout when timeout > 0 (the clock
// starts when the task starts). Submitting to a released or empty
// reservation yields a handle that is already complete with an error.
func Submit[T any](ctx context.Context, r *Reservation, id string, task Task[T], timeout time.Duration) *Handle[T] {
	hctx, cancel := context.WithCancelCause(ctx)
	h := &Handle[T]{ID: id, ctx: hctx, cancel: cancel, done: make(chan struct{})}

	stop := context.AfterFunc(r.ctx, func() { cancel(context.Cause(r.ctx)) })

	var zero T
	j := &job{
		ctx: hctx,
		abort: func(err error) {
			stop()
			cancel(err)
			h.complete(zero, err)
		},
		run: func() {
			defer stop()
			defer cancel(nil)
			h.started = time.Now()

			tctx := hctx
			if timeout > 0 {
				var tcancel context.CancelFunc
				tctx, tcancel = context.WithTimeout(hctx, timeout)
				defer tcancel()
			}

			type outcome struct {
				v   T
				err error
			}
			result := make(chan outcome, 1)
			go func() {
				v, err := call(tctx, task)
				result <- outcome{v, err}
			}()

			select {
			case o := <-result:
				err := o.err
				if err != nil && tctx.Err() != nil && errors.Is(err, tctx.Err()) {
					err = context.Cause(tctx)
				}
				h.complete(o.v, err)
			case <-tctx.Done():
				h.complete(zero, context.Cause(tctx))
				// the slot stays busy until the task actually returns
				<-result
			}
		},
	}

	if err := r.enqueue(j); err != nil {
		j.abort(err)
		return h
	}
	context.AfterFunc(hctx, func() {
		if r.remove(j) {
			j.abort(context.Cause(hctx))
		}
	})
	return h
}

func call[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

// Outcome is the final state of one task as seen by AwaitAll.
type Outcome[T any] struct {
	Value    T
	Err      error
	Duration time.Duration
}

// AwaitAll waits for every handle until ctx is done or deadline passes (a
// zero deadline means none). Tasks still outstanding at that point are
// cancelled and reported with context.DeadlineExceeded, or ctx's error.
// Results are keyed by handle ID.
func AwaitAll[T any](ctx context.Context, handles []*Handle[T], deadline time.Time) map[string]Outcome[T] {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	out := make(map[string]Outcome[T], len(handles))
	for i, h := range handles {
		select {
		case <-h.done:
			v, err := h.Result()
			out[h.ID] = Outcome[T]{Value: v, Err: err, Duration: h.duration}
		case <-ctx.Done():
			err := ctx.Err()
			for _, rest := range handles[i:] {
				select {
				case <-rest.done:
					v, rerr := rest.Result()
					out[rest.ID] = Outcome[T]{Value: v, Err: rerr, Duration: rest.duration}
				default:
					rest.Cancel(err)
					out[rest.ID] = Outcome[T]{Err: err}
				}
			}
			return out
		}
	}
	return out
}
