// File: apicore/interfaces.go
// Author: momentics <momentics@gmail.com>
//
// Collaborator interfaces the core consumes but never implements
// itself: the doorbell/cache bridge (hardware) and the
// RTOS bridge (scheduler primitives). Production builds satisfy these
// with real MSCM/MU register access and a real RTOS; this repo ships
// one concrete simulated pair (hw.SimDoorbell, rtos.SimBridge) so the
// whole stack is exercised on a single host.

package apicore

import "context"

// IRQMode selects whether a channel direction is interrupt-driven or
// polled.
type IRQMode int

const (
	IRQNone IRQMode = iota // irq_set_none sentinel: driven by explicit poll
	IRQEnabled
)

// Doorbell is the hardware collaborator: notify the peer, control the
// inbound doorbell interrupt, and flush the cache windows that back
// shared memory.
type Doorbell interface {
	// Notify rings the peer's doorbell for this instance.
	Notify(instance int) error

	// IRQClear acknowledges a pending inbound doorbell interrupt.
	IRQClear(instance int) error

	// IRQEnable / IRQDisable gate inbound doorbell delivery.
	IRQEnable(instance int) error
	IRQDisable(instance int) error

	// FlushCacheLocal cleans the local shared-memory window so a
	// remote read observes this peer's latest writes.
	FlushCacheLocal(instance int) error

	// FlushCacheRemote invalidates the local view of the remote
	// shared-memory window so a subsequent read observes the peer's
	// latest writes.
	FlushCacheRemote(instance int) error
}

// RxTask is the unit of work the RTOS bridge hands to the deferred Rx
// task: "channel `Index` of instance `Instance` may have work".
type RxTask struct {
	Instance int
	Index    int
}

// Bridge is the RTOS collaborator: deferred-task scheduling for ISR to
// task handoff, and short critical sections guarding the shared
// mutable state listed in (staging buffers, trace ring, error
// slot, link/heartbeat contexts, service registries).
type Bridge interface {
	// StartDeferredTask launches the background task that drains
	// handoffs pushed by PostRxWork and invokes fn for each.
	StartDeferredTask(ctx context.Context, fn func(RxTask)) error

	// PostRxWork is called from ISR context (the doorbell callback)
	// to hand a channel off to the deferred task.
	PostRxWork(task RxTask) error

	// Enter opens a short critical section and returns the func that
	// closes it; production RTOS builds implement this as an
	// interrupt-disable/enable pair.
	Enter() func()

	// Stop releases the deferred task and any owned resources.
	Stop() error
}
