// Package workerpool is the process-wide pool of worker slots shared by all
// requests.
//
// A request reserves slots once (Acquire or AcquireWait) and then submits
// tasks against its Reservation. At most Granted() tasks of a reservation run
// at a time; the rest wait FIFO. Release returns the slots exactly once.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	DefaultSize = 500
	MaxSize     = 1000
)

var (
	ErrPoolClosed = errors.New("workerpool: pool closed")
	ErrNoSlots    = errors.New("workerpool: reservation has no slots")
	ErrCancelled  = errors.New("workerpool: task cancelled before start")
	ErrReleased   = errors.New("workerpool: reservation released")
)

// Pool hands out worker slots. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	size    int
	free    int
	closed  bool
	waiters []*waiter
}

type waiter struct {
	n     int
	ready chan *Reservation
}

// New creates a pool with size slots, 1 <= size <= MaxSize.
func New(size int) (*Pool, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("workerpool: size must be in [1, %d], got %d", MaxSize, size)
	}
	return &Pool{size: size, free: size}, nil
}

// Size is the total number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Free is the number of unreserved slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// Acquire reserves up to n slots without blocking. The grant may be zero,
// including when other requests are already queued in AcquireWait.
func (p *Pool) Acquire(n int) *Reservation {
	p.mu.Lock()
	defer p.mu.Unlock()

	granted := 0
	if !p.closed && len(p.waiters) == 0 {
		granted = min(max(n, 0), p.free)
		p.free -= granted
	}
	return newReservation(p, granted)
}

// AcquireWait reserves up to n slots, waiting FIFO behind earlier callers
// until at least one slot is free.
func (p *Pool) AcquireWait(ctx context.Context, n int) (*Reservation, error) {
	if n < 1 {
		n = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if len(p.waiters) == 0 && p.free > 0 {
		granted := min(n, p.free)
		p.free -= granted
		p.mu.Unlock()
		return newReservation(p, granted), nil
	}
	w := &waiter{n: n, ready: make(chan *Reservation, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case r := <-w.ready:
		if r == nil {
			return nil, ErrPoolClosed
		}
		return r, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiter(w)
		p.mu.Unlock()
		if !removed {
			// granted concurrently with cancellation
			if r := <-w.ready; r != nil {
				r.Release()
			}
		}
		return nil, ctx.Err()
	}
}

// Close fails queued and future acquisitions. Outstanding reservations stay
// valid and still release normally.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, w := range p.waiters {
		w.ready <- nil
	}
	p.waiters = nil
}

func (p *Pool) release(n int) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free += n
	if p.free > p.size {
		panic(fmt.Sprintf("workerpool: released more slots than reserved (free=%d size=%d)", p.free, p.size))
	}
	for len(p.waiters) > 0 && p.free > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		granted := min(w.n, p.free)
		p.free -= granted
		w.ready <- newReservation(p, granted)
	}
}

// removeWaiter must be called with p.mu held.
func (p *Pool) removeWaiter(w *waiter) bool {
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}
