// Package workerpool implements the bounded goroutine pool the Scheduler
// Loop dispatches jobs onto (§4.E step 5). It is the task-dispatch
// counterpart of the teacher pack's object-checkout pools (grounded on
// nandlabs-golly's pool.ObjectPool: a capacity-bounded channel plus an
// in-use set) reshaped around "run this job" instead of "checkout this
// object" — a pool slot is held for the duration of one Submit call's
// function, not checked in and out by the caller.
package workerpool

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("workerpool")

// Pool bounds the number of job functions running concurrently. Submit
// blocks the caller only long enough to hand off to a free slot; the
// submitted function itself runs asynchronously.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// New constructs a Pool with the given capacity (maximum concurrently
// running tasks).
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		sem:     make(chan struct{}, capacity),
		running: make(map[uuid.UUID]struct{}),
	}
}

// Submit blocks until a slot is free, then runs fn in a new goroutine. It
// returns the correlation id assigned to this task, used in log lines so
// concurrent job runs can be told apart.
func (p *Pool) Submit(fn func()) uuid.UUID {
	p.sem <- struct{}{}
	id := uuid.New()

	p.mu.Lock()
	p.running[id] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, id)
			p.mu.Unlock()
			<-p.sem
		}()
		defer func() {
			if r := recover(); r != nil {
				logf.Errorf("task %s panicked: %v", id, r)
			}
		}()
		fn()
	}()
	return id
}

// TrySubmit attempts a non-blocking Submit: if no slot is free it returns
// ok=false without running fn, letting the scheduler loop treat "pool full"
// the same way it treats "no capacity" rather than stalling the dispatch
// loop on a full worker pool.
func (p *Pool) TrySubmit(fn func()) (uuid.UUID, bool) {
	select {
	case p.sem <- struct{}{}:
	default:
		return uuid.UUID{}, false
	}
	id := uuid.New()

	p.mu.Lock()
	p.running[id] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, id)
			p.mu.Unlock()
			<-p.sem
		}()
		defer func() {
			if r := recover(); r != nil {
				logf.Errorf("task %s panicked: %v", id, r)
			}
		}()
		fn()
	}()
	return id, true
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return cap(p.sem) - len(p.sem)
}

// Wait blocks until every submitted task has returned. Intended for
// graceful shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}
