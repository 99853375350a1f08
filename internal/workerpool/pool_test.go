package workerpool_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/workerpool"
)

func TestSubmitRunsTasksConcurrentlyUpToCapacity(t *testing.T) {
	p := workerpool.New(2)

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Fatalf("pool with capacity 2 ran %d tasks concurrently", maxSeen)
	}
}

func TestTrySubmitFailsWhenFull(t *testing.T) {
	p := workerpool.New(1)
	block := make(chan struct{})
	started := make(chan struct{})

	p.Submit(func() {
		close(started)
		<-block
	})
	<-started

	_, ok := p.TrySubmit(func() {})
	if ok {
		t.Fatal("TrySubmit should fail when the pool is at capacity")
	}

	close(block)
	p.Wait()
}

func TestRunningAndAvailableCounts(t *testing.T) {
	p := workerpool.New(3)
	if p.Available() != 3 {
		t.Fatalf("expected 3 available slots, got %d", p.Available())
	}

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-block
	})
	<-started

	if p.Running() != 1 {
		t.Fatalf("expected 1 running task, got %d", p.Running())
	}
	if p.Available() != 2 {
		t.Fatalf("expected 2 available slots, got %d", p.Available())
	}

	close(block)
	p.Wait()
}

// TestSubmitRecoversPanic ensures a panicking task does not take down the
// pool or leak its slot.
func TestSubmitRecoversPanic(t *testing.T) {
	p := workerpool.New(1)
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
	p.Wait()

	if p.Available() != 1 {
		t.Fatalf("expected slot to be released after panic, available=%d", p.Available())
	}
}
