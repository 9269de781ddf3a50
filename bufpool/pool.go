// File: bufpool/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pool is one fixed-size buffer class within a managed channel. Each
// peer lays out its own copy at a symmetric offset: a small BD ring
// followed by the flat buffer array.
//
// The BD ring plays a double role that "cyclic ownership"
// note calls out explicitly: this peer's own local ring is where this
// peer both (a) bootstraps the free-buffer list describing the *peer's*
// buffers at init time, since only this peer may write its own memory,
// and (b) later pushes release tokens for peer-owned buffers it has
// finished reading. Popping that same queue — reading the mirrored
// ring the peer writes symmetrically — is how this peer acquires a
// free buffer from its *own* pool. One ring pair, two complementary
// uses.
package bufpool

import (
	"unsafe"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/shm"
)

// Pool is one buffer-size class, fully laid out over a local and a
// mirrored remote memory window.
type Pool struct {
	ID      uint16
	BufSize int
	NumBufs int

	localBufBase  int
	remoteBufBase int
	localRegion   []byte
	remoteRegion  []byte

	bd *shm.Queue
}

// Layout describes where, inside a pool's local/remote byte windows,
// the BD ring and the buffer array begin. RingSize/BufAreaSize are
// computed by the channel/instance layout pass.
type Layout struct {
	RingOffset    int
	BufOffset     int
	RingSize      int
	BufAreaSize   int
}

// PlanLayout returns the byte footprint of a pool with the given shape:
// a BD ring for numBufs descriptors (shm.RingSize: the ring header plus
// numBufs+1 BD slots), immediately followed by numBufs*bufSize buffer
// bytes.
func PlanLayout(numBufs, bufSize int) Layout {
	ringSize := shm.RingSize(BDSize, numBufs)
	return Layout{
		RingOffset:  0,
		BufOffset:   ringSize,
		RingSize:    ringSize,
		BufAreaSize: numBufs * bufSize,
	}
}

// Footprint is the total bytes PlanLayout's ring+buffer area occupies.
func (l Layout) Footprint() int { return l.RingSize + l.BufAreaSize }

// Init lays the pool over localMem/remoteMem (each must be at least
// l.Footprint() bytes, already sliced to this pool's sub-window by the
// caller) and bootstraps the BD free list describing the peer's
// buffers.
func Init(id uint16, bufSize, numBufs int, localMem, remoteMem []byte, l Layout) (*Pool, error) {
	if bufSize <= 0 || numBufs <= 0 {
		return nil, apicore.New(apicore.Inval, "pool buffer size/count must be positive")
	}
	if len(localMem) < l.Footprint() || len(remoteMem) < l.Footprint() {
		return nil, apicore.New(apicore.NoMem, "pool backing memory too small")
	}

	localRing, err := shm.NewRing(localMem[l.RingOffset:l.RingOffset+l.RingSize], BDSize, numBufs)
	if err != nil {
		return nil, err
	}
	remoteRing, err := shm.NewRing(remoteMem[l.RingOffset:l.RingOffset+l.RingSize], BDSize, numBufs)
	if err != nil {
		return nil, err
	}

	q, err := shm.NewQueue(localRing, remoteRing, shm.KindPool)
	if err != nil {
		return nil, err
	}
	if err := q.Init(); err != nil {
		return nil, err
	}

	p := &Pool{
		ID:            id,
		BufSize:       bufSize,
		NumBufs:       numBufs,
		localBufBase:  l.BufOffset,
		remoteBufBase: l.BufOffset,
		localRegion:   localMem,
		remoteRegion:  remoteMem,
		bd:            q,
	}

	// Bootstrap: describe all of the peer's buffers as free. buf_id
	// is positional, interpreted by whichever side later combines it
	// with its own local base.
	buf := make([]byte, BDSize)
	for i := 0; i < numBufs; i++ {
		BD{PoolID: id, BufferID: uint16(i), Length: 0}.Marshal(buf)
		if err := q.Push(buf); err != nil {
			return nil, err
		}
	}
	localRing.MarkInitDone()
	return p, nil
}

// Free clears this peer's own BD ring.
func (p *Pool) Free() { p.bd.Free() }

// Acquire pops a free BD describing one of this peer's own buffers and
// returns a writable slice over it. Returns apicore.NoMem (translated
// from the ring's NoQueue) if the pool has no free buffer right now.
func (p *Pool) Acquire(size int) ([]byte, error) {
	buf, _, err := p.AcquireAt(size)
	return buf, err
}

// AcquireAt is Acquire plus the local-window byte offset of the
// returned buffer, so a caller (a managed channel's Send) can later
// hand that offset to CommitLength without doing its own pointer
// arithmetic against a sub-slice.
func (p *Pool) AcquireAt(size int) ([]byte, int, error) {
	if size > p.BufSize {
		return nil, 0, apicore.New(apicore.Inval, "requested size exceeds pool buffer size")
	}
	buf := make([]byte, BDSize)
	if err := p.bd.Pop(buf); err != nil {
		if apicore.CodeOf(err) == apicore.NoQueue {
			return nil, 0, apicore.New(apicore.NoMem, "pool exhausted").WithContext("pool_id", p.ID)
		}
		return nil, 0, err
	}
	bd := UnmarshalBD(buf)
	off := p.localBufBase + int(bd.BufferID)*p.BufSize
	if off < 0 || off+p.BufSize > len(p.localRegion) {
		return nil, 0, apicore.New(apicore.Integrity, "acquired buffer id out of range").
			WithContext("buffer_id", bd.BufferID)
	}
	return p.localRegion[off : off+p.BufSize], off, nil
}

// CommitLength records the length of a filled local buffer into a BD
// so the caller (a managed channel) can hand it off on the channel's
// Tx queue. It does not mutate the pool; it is a pure helper.
func (p *Pool) CommitLength(localAddrOffset, length int) BD {
	bufID := (localAddrOffset - p.localBufBase) / p.BufSize
	return BD{PoolID: p.ID, BufferID: uint16(bufID), Length: uint32(length)}
}

// OwnsLocalOffset reports whether a local buffer offset belongs to
// this pool's local buffer array (used by a channel's acquire-commit
// path to find which pool a filled buffer came from).
func (p *Pool) OwnsLocalOffset(off int) bool {
	return off >= p.localBufBase && off < p.localBufBase+p.NumBufs*p.BufSize
}

// OwnsRemoteOffset reports whether a remote buffer offset belongs to
// this pool's mirrored remote buffer array (used on the Rx path to
// find which pool a received BD's buffer belongs to).
func (p *Pool) OwnsRemoteOffset(off int) bool {
	return off >= p.remoteBufBase && off < p.remoteBufBase+p.NumBufs*p.BufSize
}

// RemoteOffsetOf returns the remote-window byte offset of bufferID,
// the inverse of the subtraction/division a BD's BufferID undergoes
// on release.
func (p *Pool) RemoteOffsetOf(bufferID uint16) int {
	return p.remoteBufBase + int(bufferID)*p.BufSize
}

// RemoteSlice returns a read-only view of a remote-owned buffer at
// offset off, range-checked against this pool's mirrored buffer array:
// the whole [off, off+length) range must lie within the pool's
// NumBufs*BufSize remote buffer bytes.
func (p *Pool) RemoteSlice(off, length int) ([]byte, error) {
	if off < p.remoteBufBase || off+length > p.remoteBufBase+p.NumBufs*p.BufSize {
		return nil, apicore.New(apicore.Integrity, "remote buffer address out of range")
	}
	return p.remoteRegion[off : off+length], nil
}

// OffsetOfRemoteSlice recovers the remote-window byte offset a
// previously returned RemoteSlice was cut from, by pointer arithmetic
// against the pool's remote region base. It lets a caller that only
// holds the buffer slice (not the offset) find the BD to release on
// the Rx path.
func (p *Pool) OffsetOfRemoteSlice(buf []byte) (int, bool) {
	if len(buf) == 0 || len(p.remoteRegion) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&p.remoteRegion[0]))
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	if ptr < base {
		return 0, false
	}
	off := int(ptr - base)
	if !p.OwnsRemoteOffset(off) {
		return 0, false
	}
	return off, true
}

// Release pushes a free-BD describing a peer-owned buffer this peer
// has finished reading, identified by its offset into the remote
// buffer array.
func (p *Pool) Release(remoteOffset int) error {
	if !p.OwnsRemoteOffset(remoteOffset) {
		return apicore.New(apicore.Inval, "address does not belong to this pool's remote window")
	}
	bufID := (remoteOffset - p.remoteBufBase) / p.BufSize
	buf := make([]byte, BDSize)
	BD{PoolID: p.ID, BufferID: uint16(bufID), Length: 0}.Marshal(buf)
	return p.bd.Push(buf)
}
