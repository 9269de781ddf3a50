// File: shm/region.go
// Package shm implements the lock-free single-producer/single-consumer
// ring engine and the shared-memory region plumbing it runs over.
// Author: momentics <momentics@gmail.com>
//
// A Region models one peer's contiguous shared-memory window. In
// production this is a fixed physical address range mapped by the
// platform bring-up code; here it is backed by an anonymous MAP_SHARED
// mapping so the ring/queue/pool logic above it runs unmodified
// whether the backing store is real silicon or this simulation.

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is a flat byte window standing in for one peer's physical
// shared-memory range.
type Region struct {
	data   []byte
	mapped bool
}

// NewMmapRegion allocates a zero-filled anonymous shared mapping of
// size bytes. Two Regions created this way are independent windows;
// NewMirroredPair below is what actually gives two peers a shared
// backing store.
func NewMmapRegion(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: region size must be positive, got %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %d bytes: %w", size, err)
	}
	return &Region{data: data, mapped: true}, nil
}

// NewRegion wraps an existing byte slice as a Region without mapping
// new memory; used by tests and by NewMirroredPair.
func NewRegion(buf []byte) *Region {
	return &Region{data: buf}
}

// Bytes returns the full backing slice.
func (r *Region) Bytes() []byte { return r.data }

// Window returns the sub-slice [offset, offset+size).
func (r *Region) Window(offset, size int) []byte {
	return r.data[offset : offset+size]
}

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Close releases the mapping, if this Region owns one.
func (r *Region) Close() error {
	if !r.mapped {
		return nil
	}
	return unix.Munmap(r.data)
}

// MirroredPair is one physical mmap split into two symmetric windows,
// simulating the bit-exact mirrored layout requires between a
// peer's local and remote shared-memory views: instance A's local
// window is instance B's remote window and vice versa.
type MirroredPair struct {
	whole   *Region
	ShmA    *Region // A's local == B's remote
	ShmB    *Region // B's local == A's remote
}

// NewMirroredPair allocates one mmap of 2*size and returns the two
// halves as independent, equally-sized Regions.
func NewMirroredPair(size int) (*MirroredPair, error) {
	whole, err := NewMmapRegion(size * 2)
	if err != nil {
		return nil, err
	}
	return &MirroredPair{
		whole: whole,
		ShmA:  NewRegion(whole.Window(0, size)),
		ShmB:  NewRegion(whole.Window(size, size)),
	}, nil
}

// Close releases the single underlying mapping.
func (p *MirroredPair) Close() error {
	return p.whole.Close()
}
