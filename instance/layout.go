// File: instance/layout.go
// Author: momentics <momentics@gmail.com>
//
// Layout computes the bit-exact shared-memory footprint of an
// instance's channels so the manager can carve one mmap'd region into
// per-channel sub-windows the same way on both peers.

package instance

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
	"github.com/momentics/picc-ipc/channel"
	"github.com/momentics/picc-ipc/shm"
)

// GlobalSize is the 8-byte Global readiness word at offset 0.
const GlobalSize = 8

// ChannelLayout is one channel's byte placement within the instance's
// shared-memory window.
type ChannelLayout struct {
	Offset int
	Size   int
}

// ManagedFootprint is the BD-ring-plus-pools byte footprint of a
// managed channel: the channel's own in-flight BD ring followed by
// each pool's ring-plus-buffers region, in configured order.
func ManagedFootprint(bdQueueCapacity int, pools []PoolSpec) int {
	total := shm.RingSize(bufpool.BDSize, bdQueueCapacity)
	for _, p := range pools {
		total += bufpool.PlanLayout(p.NumBufs, p.BufSize).Footprint()
	}
	return total
}

// ChannelFootprint dispatches to the managed or unmanaged footprint
// formula per the channel's tagged kind.
func ChannelFootprint(spec ChannelSpec) int {
	switch spec.Kind {
	case apicore.ChannelManaged:
		return ManagedFootprint(spec.Managed.BDQueueCapacity, spec.Managed.Pools)
	case apicore.ChannelUnmanaged:
		return channel.UnmanagedFootprint(spec.Unmanaged.PayloadSize)
	default:
		return 0
	}
}

// PlanLayout lays the Global word followed by every channel in
// configured order, returning the total instance shared-memory size
// and each channel's offset/size within it.
func PlanLayout(channels []ChannelSpec) (total int, perChannel []ChannelLayout) {
	offset := GlobalSize
	perChannel = make([]ChannelLayout, len(channels))
	for i, spec := range channels {
		size := ChannelFootprint(spec)
		perChannel[i] = ChannelLayout{Offset: offset, Size: size}
		offset += size
	}
	return offset, perChannel
}
