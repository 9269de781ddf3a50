// File: rtos/bridge.go
// Package rtos provides the simulated RTOS collaborator: deferred-task
// scheduling for ISR to task handoff and the short critical sections
// requires around shared mutable state.
// Author: momentics <momentics@gmail.com>

package rtos

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/picc-ipc/apicore"
)

// SimBridge implements apicore.Bridge with a mutex-guarded
// eapache/queue.Queue standing in for the ISR-to-task handoff queue a
// real RTOS would provide, and a sync.Mutex standing in for a
// real RTOS's interrupt-disable/enable critical section.
type SimBridge struct {
	mu       sync.Mutex   // guards pending, matching the worker stop/resize pattern
	critical sync.Mutex   // the Enter/Leave critical section
	pending  *queue.Queue
	signal   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewSimBridge constructs a bridge with an empty handoff queue.
func NewSimBridge() *SimBridge {
	return &SimBridge{
		pending: queue.New(),
		signal:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// StartDeferredTask launches the background goroutine that drains
// handoffs and invokes fn for each, until ctx is cancelled or Stop is
// called.
func (b *SimBridge) StartDeferredTask(ctx context.Context, fn func(apicore.RxTask)) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return apicore.New(apicore.Inval, "deferred task already started")
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-b.signal:
				for {
					task, ok := b.dequeue()
					if !ok {
						break
					}
					fn(task)
				}
			}
		}
	}()
	return nil
}

func (b *SimBridge) dequeue() (apicore.RxTask, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.Length() == 0 {
		return apicore.RxTask{}, false
	}
	v := b.pending.Remove()
	return v.(apicore.RxTask), true
}

// PostRxWork hands a channel off to the deferred task, called from the
// simulated ISR context (a hw.Doorbell handler).
func (b *SimBridge) PostRxWork(task apicore.RxTask) error {
	b.mu.Lock()
	b.pending.Add(task)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// Enter brackets a critical section; the returned func ends it.
func (b *SimBridge) Enter() func() {
	b.critical.Lock()
	return b.critical.Unlock
}

// Stop halts the deferred task goroutine and waits for it to exit.
func (b *SimBridge) Stop() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	return nil
}
