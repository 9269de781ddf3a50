// File: channel/managed.go
// Package channel implements the managed and unmanaged channel
// variants and the tagged union over them.
// Author: momentics <momentics@gmail.com>

package channel

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
	"github.com/momentics/picc-ipc/shm"
)

// RxFunc is the application Rx callback: it owns buf until it calls
// Managed.ReleaseRxBuffer.
type RxFunc func(buf []byte)

// Managed is a BD queue for in-flight messages plus an ascending list
// of buffer pools.
type Managed struct {
	ID    int
	pools []*bufpool.Pool // ascending buffer size; validated at construction
	bd    *shm.Queue
	onRx  RxFunc
	ready func() bool // nil means "always ready" (e.g. in isolated unit tests)
}

// SetReadyCheck wires the remote-readiness predicate AcquireTxBuffer
// consults before popping a BD. The instance manager sets this to its
// Manager.IsRemoteReady once the channel is attached to an instance;
// left nil (the default) AcquireTxBuffer never gates on readiness,
// which is what the package's own unit tests rely on.
func (m *Managed) SetReadyCheck(f func() bool) { m.ready = f }

// NewManaged validates that pools are strictly ascending by buffer
// size and wires the channel's own BD queue.
func NewManaged(id int, pools []*bufpool.Pool, bd *shm.Queue, onRx RxFunc) (*Managed, error) {
	for i := 1; i < len(pools); i++ {
		if pools[i].BufSize <= pools[i-1].BufSize {
			return nil, apicore.New(apicore.Inval, "channel pools must be strictly ascending by buffer size")
		}
	}
	total := 0
	for _, p := range pools {
		total += p.NumBufs
	}
	if total > apicore.MaxBufsPerChannel {
		return nil, apicore.New(apicore.Inval, "channel buffer count exceeds MaxBufsPerChannel").
			WithContext("total", total)
	}
	return &Managed{ID: id, pools: pools, bd: bd, onRx: onRx}, nil
}

// Free releases this peer's own BD-ring and pool resources.
func (m *Managed) Free() {
	m.bd.Free()
	for _, p := range m.pools {
		p.Free()
	}
}

// AcquireTxBuffer finds the smallest pool whose buffer size is at
// least size and pops a free buffer from it; if that pool is
// exhausted it tries the next larger pool. It
// returns the pool and local offset alongside the buffer so Send can
// commit the BD without re-deriving the offset from a pointer. Returns
// apicore.NotReady without popping any BD if the remote peer's Global
// word is not yet READY.
func (m *Managed) AcquireTxBuffer(size int) (buf []byte, pool *bufpool.Pool, offset int, err error) {
	if m.ready != nil && !m.ready() {
		return nil, nil, 0, apicore.New(apicore.NotReady, "remote peer is not ready")
	}
	for _, p := range m.pools {
		if p.BufSize < size {
			continue
		}
		b, off, aerr := p.AcquireAt(size)
		if aerr == nil {
			return b, p, off, nil
		}
		if apicore.CodeOf(aerr) == apicore.NoMem {
			continue // this size class is exhausted, try the next larger pool
		}
		return nil, nil, 0, aerr
	}
	return nil, nil, 0, apicore.New(apicore.NoMem, "no pool has a free buffer of the requested size")
}

// Send fills a BD describing the pool/buffer/length that owns addr
// and pushes it onto the channel's BD queue. Send does not flush the
// cache or ring the doorbell, and neither stack.Framer nor
// instance.Manager does so after it; the peer sees the BD on its next
// Rx poll.
func (m *Managed) Send(pool *bufpool.Pool, localOffset, length int) error {
	bd := pool.CommitLength(localOffset, length)
	buf := make([]byte, bufpool.BDSize)
	bd.Marshal(buf)
	return m.bd.Push(buf)
}

// ReleaseRxBuffer finds the pool that a previously delivered Rx buffer
// was cut from, recovers its offset by pointer arithmetic, and pushes
// a free BD back into that pool's release queue. Callers
// pass the exact slice handed to the Rx callback.
func (m *Managed) ReleaseRxBuffer(buf []byte) error {
	for _, p := range m.pools {
		if off, ok := p.OffsetOfRemoteSlice(buf); ok {
			return p.Release(off)
		}
	}
	return apicore.New(apicore.Inval, "buffer does not belong to any pool of this channel")
}

// poolByID returns the pool with the matching ID, used to resolve an
// inbound BD's PoolID field back to a concrete pool.
func (m *Managed) poolByID(id uint16) *bufpool.Pool {
	for _, p := range m.pools {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Rx pops up to budget BDs from the channel's BD queue; for each, it
// resolves the pool, range-checks the remote buffer, and invokes the
// Rx callback. Returns the number of BDs processed.
func (m *Managed) Rx(budget int) (int, error) {
	work := 0
	buf := make([]byte, bufpool.BDSize)
	for work < budget {
		if err := m.bd.Pop(buf); err != nil {
			if apicore.CodeOf(err) == apicore.NoQueue {
				break
			}
			return work, err
		}
		bd := bufpool.UnmarshalBD(buf)
		p := m.poolByID(bd.PoolID)
		if p == nil {
			return work, apicore.New(apicore.Integrity, "BD names an unknown pool id").
				WithContext("pool_id", bd.PoolID)
		}
		off := p.RemoteOffsetOf(bd.BufferID)
		data, err := p.RemoteSlice(off, int(bd.Length))
		if err != nil {
			return work, err
		}
		if m.onRx != nil {
			m.onRx(data)
		}
		work++
	}
	return work, nil
}
