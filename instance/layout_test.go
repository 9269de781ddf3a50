package instance_test

import (
	"testing"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
	"github.com/momentics/picc-ipc/channel"
	"github.com/momentics/picc-ipc/instance"
	"github.com/momentics/picc-ipc/shm"
)

func TestManagedFootprintMatchesRingPlusPools(t *testing.T) {
	pools := []instance.PoolSpec{{BufSize: 32, NumBufs: 4}, {BufSize: 64, NumBufs: 2}}
	got := instance.ManagedFootprint(8, pools)

	want := shm.RingSize(bufpool.BDSize, 8)
	want += bufpool.PlanLayout(4, 32).Footprint()
	want += bufpool.PlanLayout(2, 64).Footprint()
	if got != want {
		t.Fatalf("ManagedFootprint = %d, want %d", got, want)
	}
}

func TestChannelFootprintDispatchesByKind(t *testing.T) {
	managed := instance.ChannelSpec{
		Kind:    apicore.ChannelManaged,
		Managed: &instance.ManagedChannelSpec{Pools: []instance.PoolSpec{{BufSize: 16, NumBufs: 2}}, BDQueueCapacity: 4},
	}
	if got, want := instance.ChannelFootprint(managed), instance.ManagedFootprint(4, managed.Managed.Pools); got != want {
		t.Fatalf("managed footprint = %d, want %d", got, want)
	}

	unmanaged := instance.ChannelSpec{
		Kind:      apicore.ChannelUnmanaged,
		Unmanaged: &instance.UnmanagedChannelSpec{PayloadSize: 128},
	}
	if got, want := instance.ChannelFootprint(unmanaged), channel.UnmanagedFootprint(128); got != want {
		t.Fatalf("unmanaged footprint = %d, want %d", got, want)
	}
}

func TestPlanLayoutPlacesChannelsBackToBackAfterGlobal(t *testing.T) {
	specs := []instance.ChannelSpec{
		{ID: 1, Kind: apicore.ChannelUnmanaged, Unmanaged: &instance.UnmanagedChannelSpec{PayloadSize: 64}},
		{ID: 2, Kind: apicore.ChannelUnmanaged, Unmanaged: &instance.UnmanagedChannelSpec{PayloadSize: 32}},
	}
	total, layout := instance.PlanLayout(specs)

	if layout[0].Offset != instance.GlobalSize {
		t.Fatalf("first channel offset = %d, want %d", layout[0].Offset, instance.GlobalSize)
	}
	want0 := channel.UnmanagedFootprint(64)
	if layout[0].Size != want0 {
		t.Fatalf("first channel size = %d, want %d", layout[0].Size, want0)
	}
	if layout[1].Offset != layout[0].Offset+layout[0].Size {
		t.Fatalf("second channel offset = %d, want %d", layout[1].Offset, layout[0].Offset+layout[0].Size)
	}
	if total != layout[1].Offset+layout[1].Size {
		t.Fatalf("total = %d, want %d", total, layout[1].Offset+layout[1].Size)
	}
}
