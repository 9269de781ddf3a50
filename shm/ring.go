// File: shm/ring.go
// Author: momentics <momentics@gmail.com>
//
// Ring is the lock-free single-producer/single-consumer FIFO living in
// shared memory. Unlike an in-process RingBuffer/LockFreeQueue (which
// use a CAS loop over a single shared head/tail because many
// goroutines may race on the same cells), a Ring
// here is written by exactly one peer: only that peer's write index and
// read index ever change, so plain atomic loads/stores over the raw
// bytes are enough — there is no compare-and-swap retry loop, and nei-
// ther index is ever written by the peer that doesn't own the ring.

package shm

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/picc-ipc/apicore"
)

const (
	sentinelOff = 0
	writeOff    = 8
	readOff     = 12
)

// Ring is a view over a RingHeaderSize+capacity*elemSize byte window.
// Capacity includes the one reserved sentinel slot (full when
// write+1 mod capacity == read).
type Ring struct {
	mem      []byte
	elemSize int
	capacity int // includes the sentinel slot
}

// NewRing lays a ring header + capacity*elemSize data bytes over mem.
// count is the element count requested by the caller; the sentinel
// slot is added internally. elemSize must be a multiple of 8.
func NewRing(mem []byte, elemSize, count int) (*Ring, error) {
	if elemSize <= 0 || elemSize%8 != 0 {
		return nil, apicore.New(apicore.Inval, "ring element size must be a positive multiple of 8").
			WithContext("elem_size", elemSize)
	}
	if count <= 0 {
		return nil, apicore.New(apicore.Inval, "ring element count must be positive")
	}
	capacity := count + 1
	need := apicore.RingHeaderSize + capacity*elemSize
	if len(mem) < need {
		return nil, apicore.New(apicore.Inval, "ring backing memory too small").
			WithContext("need", need).WithContext("have", len(mem))
	}
	return &Ring{mem: mem[:need], elemSize: elemSize, capacity: capacity}, nil
}

// RingSize returns the number of bytes a ring of this shape occupies.
func RingSize(elemSize, count int) int {
	return apicore.RingHeaderSize + (count+1)*elemSize
}

func (r *Ring) sentinelPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.mem[sentinelOff])) }
func (r *Ring) writePtr() *uint32    { return (*uint32)(unsafe.Pointer(&r.mem[writeOff])) }
func (r *Ring) readPtr() *uint32     { return (*uint32)(unsafe.Pointer(&r.mem[readOff])) }

// Sentinel reads the ring's init sentinel (volatile: may be observed
// mid-transition by the peer).
func (r *Ring) Sentinel() uint64 { return atomic.LoadUint64(r.sentinelPtr()) }

// Write / Read read the write and read cursors.
func (r *Ring) Write() uint32 { return atomic.LoadUint32(r.writePtr()) }
func (r *Ring) Read() uint32  { return atomic.LoadUint32(r.readPtr()) }

func (r *Ring) setSentinel(v uint64) { atomic.StoreUint64(r.sentinelPtr(), v) }
func (r *Ring) setWrite(v uint32)    { atomic.StoreUint32(r.writePtr(), v) }
func (r *Ring) setRead(v uint32)     { atomic.StoreUint32(r.readPtr(), v) }

// Capacity returns the slot count including the sentinel reservation.
func (r *Ring) Capacity() int { return r.capacity }

// ElemSize returns the per-element byte size.
func (r *Ring) ElemSize() int { return r.elemSize }

// slot returns the raw bytes for element index i. Index must already
// be range-checked by the caller.
func (r *Ring) slot(i uint32) []byte {
	off := apicore.RingHeaderSize + int(i)*r.elemSize
	return r.mem[off : off+r.elemSize]
}

// markInitInProgress flips the sentinel to InitInProgress, the first
// step of Queue.Init.
func (r *Ring) markInitInProgress() { r.setSentinel(apicore.SentinelInitInProgress) }

// MarkInitDone flips the sentinel to InitDone. Called by the owning
// queue/pool/channel once the higher-level structure built on top of
// this ring is fully initialized.
func (r *Ring) MarkInitDone() { r.setSentinel(apicore.SentinelInitDone) }

// Free clears the sentinel and both indices. Only valid on a ring this
// peer owns: the local push ring, never the remote pop ring.
func (r *Ring) Free() {
	r.setSentinel(apicore.SentinelClear)
	r.setWrite(0)
	r.setRead(0)
}

// checkIntegrity reports whether this ring's own sentinel is InitDone.
func (r *Ring) checkIntegrity() error {
	if r.Sentinel() != apicore.SentinelInitDone {
		return apicore.New(apicore.Integrity, "ring sentinel is not INIT_DONE")
	}
	return nil
}

// indexValid reports whether idx is a legal slot index.
func (r *Ring) indexValid(idx uint32) bool {
	return idx < uint32(r.capacity)
}
