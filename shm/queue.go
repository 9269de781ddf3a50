// File: shm/queue.go
// Author: momentics <momentics@gmail.com>
//
// Queue pairs a locally-owned push ring with the peer's pop ring and
// implements an index-swap discipline: a pop advances the *push*
// ring's read cursor, a push advances the push ring's write cursor;
// the pop ring's own cursors are never written by this peer. This is
// what makes "no write path ever stores into the peer's memory" hold
// even on a successful pop.

package shm

import (
	"github.com/momentics/picc-ipc/apicore"
)

// Kind classifies what a queue's BDs/records represent.
type Kind int

const (
	KindChannel Kind = iota
	KindPool
)

// Queue is one peer's view of a bidirectional exchange: Push is the
// ring in this peer's own shared-memory window, Pop is the mirrored
// ring in the remote peer's window.
type Queue struct {
	Push *Ring
	Pop  *Ring
	Kind Kind
}

// NewQueue wires a push/pop ring pair. Both rings must already exist
// (laid out by the caller over the appropriate local/remote windows)
// with matching elemSize/capacity; that symmetry is the channel/pool
// layout's responsibility, not the queue's.
func NewQueue(push, pop *Ring, kind Kind) (*Queue, error) {
	if push.ElemSize() != pop.ElemSize() || push.Capacity() != pop.Capacity() {
		return nil, apicore.New(apicore.Inval, "push/pop ring shape mismatch")
	}
	return &Queue{Push: push, Pop: pop, Kind: kind}, nil
}

// Init marks the local push ring INIT_IN_PROGRESS. If the peer's ring
// (our Pop ring, which is the peer's own push ring) already reports
// INIT_DONE, this peer is resuming a session the remote side already
// established, so it adopts the remote's index pair rather than losing
// whatever was in flight; otherwise it starts from zero. The caller
// must flip Push to InitDone once the owning channel/pool structure is
// fully built.
func (q *Queue) Init() error {
	remoteSentinel := q.Pop.Sentinel()
	if remoteSentinel == apicore.SentinelInitInProgress {
		return apicore.New(apicore.RemoteInitInProgress, "peer ring is mid-initialization")
	}
	q.Push.markInitInProgress()
	if remoteSentinel == apicore.SentinelInitDone {
		cap32 := uint32(q.Push.Capacity())
		q.Push.setWrite(q.Pop.Read())
		if q.Kind == KindChannel {
			q.Push.setRead(q.Pop.Write() % cap32)
		} else {
			q.Push.setRead((q.Pop.Write() + 1) % cap32)
		}
	} else {
		q.Push.setWrite(0)
		q.Push.setRead(0)
	}
	return nil
}

// Free clears this peer's own push ring only.
func (q *Queue) Free() {
	q.Push.Free()
}

// CheckIntegrity requires both sentinels to read InitDone.
func (q *Queue) CheckIntegrity() error {
	if err := q.Push.checkIntegrity(); err != nil {
		return err
	}
	if err := q.Pop.checkIntegrity(); err != nil {
		return err
	}
	return nil
}

// Push copies buf (must be exactly ElemSize bytes) into the push ring
// and advances its write cursor. Returns Inval if buf has the wrong
// size, Integrity on a sentinel or index check failure, and NoMem when
// the ring is full. While the local ring is still INIT_IN_PROGRESS
// (a pool bootstrapping its BD free list) the sentinel check is
// skipped; otherwise both rings must read INIT_DONE.
func (q *Queue) Push(buf []byte) error {
	if len(buf) != q.Push.ElemSize() {
		return apicore.New(apicore.Inval, "push buffer size mismatch")
	}
	local := q.Push.Sentinel()
	bootstrapping := local == apicore.SentinelInitInProgress
	if !bootstrapping && (local != apicore.SentinelInitDone || q.Pop.Sentinel() != apicore.SentinelInitDone) {
		return apicore.New(apicore.Integrity, "queue ring not INIT_DONE")
	}
	write := q.Push.Write()
	read := q.Pop.Read()
	if !q.Push.indexValid(write) || !q.Pop.indexValid(read) {
		return apicore.New(apicore.Integrity, "ring index out of range")
	}
	cap32 := uint32(q.Push.Capacity())
	next := (write + 1) % cap32
	if next == read {
		return apicore.New(apicore.NoMem, "ring full").WithContext("kind", q.Kind)
	}
	copy(q.Push.slot(write), buf)
	q.Push.setWrite(next)
	return nil
}

// Pop copies the next element out of the pop ring into dst (which
// must be exactly ElemSize bytes) and advances the push ring's read
// cursor. Returns NoQueue when the ring is empty.
func (q *Queue) Pop(dst []byte) error {
	if len(dst) != q.Pop.ElemSize() {
		return apicore.New(apicore.Inval, "pop buffer size mismatch")
	}
	if q.Push.Sentinel() != apicore.SentinelInitDone || q.Pop.Sentinel() != apicore.SentinelInitDone {
		return apicore.New(apicore.Integrity, "queue ring not INIT_DONE")
	}
	write := q.Pop.Write()
	read := q.Push.Read()
	if !q.Pop.indexValid(write) || !q.Push.indexValid(read) {
		return apicore.New(apicore.Integrity, "ring index out of range")
	}
	if write == read {
		return apicore.New(apicore.NoQueue, "ring empty").WithContext("kind", q.Kind)
	}
	copy(dst, q.Pop.slot(read))
	cap32 := uint32(q.Push.Capacity())
	q.Push.setRead((read + 1) % cap32)
	return nil
}

// Len reports the number of populated-but-unpopped entries as this
// peer currently observes them, for diagnostics only (the peer's
// concurrent writes mean this is a snapshot, not a guarantee).
func (q *Queue) Len() int {
	write := int(q.Pop.Write())
	read := int(q.Push.Read())
	cap := q.Push.Capacity()
	if write >= read {
		return write - read
	}
	return cap - read + write
}
