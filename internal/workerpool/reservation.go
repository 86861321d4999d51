package workerpool

import (
	"context"
	"sync"
)

// Reservation is a request's share of the pool.
type Reservation struct {
	pool    *Pool
	granted int

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	running  int
	queue    []*job
	released bool
	wg       sync.WaitGroup
	once     sync.Once
}

type job struct {
	ctx   context.Context
	run   func()
	abort func(error)
}

func newReservation(p *Pool, granted int) *Reservation {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Reservation{pool: p, granted: granted, ctx: ctx, cancel: cancel}
}

// Granted is the number of slots held.
func (r *Reservation) Granted() int {
	return r.granted
}

// Pending is the number of submitted tasks not yet started.
func (r *Reservation) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Running is the number of tasks currently executing.
func (r *Reservation) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CancelPending drops every queued task; each reports ErrCancelled. Running
// tasks are not affected.
func (r *Reservation) CancelPending() {
	r.mu.Lock()
	dropped := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, j := range dropped {
		j.abort(ErrCancelled)
	}
}

// Release cancels queued and running tasks, waits for running tasks to
// return and gives the slots back to the pool. Only the first call has an
// effect.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.mu.Lock()
		r.released = true
		r.mu.Unlock()

		r.CancelPending()
		r.cancel(ErrReleased)
		r.wg.Wait()
		r.pool.release(r.granted)
	})
}

func (r *Reservation) enqueue(j *job) error {
	r.mu.Lock()
	switch {
	case r.released:
		r.mu.Unlock()
		return ErrReleased
	case r.granted == 0:
		r.mu.Unlock()
		return ErrNoSlots
	}
	r.queue = append(r.queue, j)
	r.mu.Unlock()

	r.dispatch()
	return nil
}

// dispatch starts queued jobs while slots are idle. Jobs whose context is
// already done are completed without running.
func (r *Reservation) dispatch() {
	for {
		r.mu.Lock()
		if r.running >= r.granted || len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		j := r.queue[0]
		r.queue = r.queue[1:]
		if err := context.Cause(j.ctx); err != nil {
			r.mu.Unlock()
			j.abort(err)
			continue
		}
		r.running++
		r.wg.Add(1)
		r.mu.Unlock()

		go func() {
			defer r.finished()
			j.run()
		}()
	}
}

// remove takes j out of the queue if it has not started.
func (r *Reservation) remove(j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.queue {
		if q == j {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Reservation) finished() {
	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	r.wg.Done()
	r.dispatch()
}
