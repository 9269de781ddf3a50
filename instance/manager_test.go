package instance_test

import (
	"context"
	"testing"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/hw"
	"github.com/momentics/picc-ipc/instance"
	"github.com/momentics/picc-ipc/rtos"
)

// peer bundles one side of a two-manager test fixture together with the
// simulated hardware/RTOS collaborators it owns, so tests can tear both
// down symmetrically.
type peer struct {
	mgr      *instance.Manager
	doorbell *hw.SimDoorbell
	bridge   *rtos.SimBridge
	cancel   context.CancelFunc
}

func (p *peer) stop(t *testing.T) {
	t.Helper()
	if err := p.mgr.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	p.mgr.Free()
	p.cancel()
	p.doorbell.Close()
}

// buildPeerPair wires two instance.Managers over a mirrored shared-memory
// pair, one channel spec shared by both sides (only the link role and
// local/remote core differ).
func buildPeerPair(t *testing.T, channelID int, clientLink, serverLink *instance.LinkSpec, heartbeat bool) (a, b *peer) {
	t.Helper()

	newSpec := func(link *instance.LinkSpec) instance.ChannelSpec {
		return instance.ChannelSpec{
			ID:   channelID,
			Kind: apicore.ChannelManaged,
			Managed: &instance.ManagedChannelSpec{
				Pools:           []instance.PoolSpec{{BufSize: 64, NumBufs: 4}},
				BDQueueCapacity: 8,
			},
			MaxFrameSize: 256,
			CRCEnabled:   true,
			Link:         link,
			Heartbeat:    heartbeat,
		}
	}

	cfgA := instance.Config{Channels: []instance.ChannelSpec{newSpec(clientLink)}, InstanceIndex: 0}
	cfgB := instance.Config{Channels: []instance.ChannelSpec{newSpec(serverLink)}, InstanceIndex: 1}

	totalA, _ := instance.PlanLayout(cfgA.Channels)
	totalB, _ := instance.PlanLayout(cfgB.Channels)
	if totalA != totalB {
		t.Fatalf("symmetric channel specs must produce equal footprints, got %d vs %d", totalA, totalB)
	}
	memA := make([]byte, totalA)
	memB := make([]byte, totalB)

	dbA, dbB := hw.NewSimDoorbell(), hw.NewSimDoorbell()
	brA, brB := rtos.NewSimBridge(), rtos.NewSimBridge()

	mgrA, err := instance.NewManager(cfgA, memA, memB, dbA, brA)
	if err != nil {
		t.Fatalf("new manager a: %v", err)
	}
	mgrB, err := instance.NewManager(cfgB, memB, memA, dbB, brB)
	if err != nil {
		t.Fatalf("new manager b: %v", err)
	}

	if err := dbA.Register(cfgA.InstanceIndex, mgrA.OnDoorbell); err != nil {
		t.Fatalf("register doorbell a: %v", err)
	}
	if err := dbB.Register(cfgB.InstanceIndex, mgrB.OnDoorbell); err != nil {
		t.Fatalf("register doorbell b: %v", err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	if err := mgrA.Init(ctxA); err != nil {
		t.Fatalf("init a: %v", err)
	}
	if err := mgrB.Init(ctxB); err != nil {
		t.Fatalf("init b: %v", err)
	}

	return &peer{mgr: mgrA, doorbell: dbA, bridge: brA, cancel: cancelA},
		&peer{mgr: mgrB, doorbell: dbB, bridge: brB, cancel: cancelB}
}

// TestManagerConnectHandshake reproduces scenario 2 end to end
// through the instance manager: the CLIENT's periodic tick sends
// CONNECT, the SERVER's fair-budgeted poll observes it and replies, and
// the CLIENT's poll observes CONNECTED.
func TestManagerConnectHandshake(t *testing.T) {
	clientLink := &instance.LinkSpec{LocalID: 1, RemoteID: 2, Role: apicore.RoleClient, Primary: true}
	serverLink := &instance.LinkSpec{LocalID: 2, RemoteID: 1, Role: apicore.RoleServer, Primary: true}
	a, b := buildPeerPair(t, 7, clientLink, serverLink, false)
	defer a.stop(t)
	defer b.stop(t)

	a.mgr.Link(7).Tick() // CLIENT sends CONNECT

	if _, err := b.mgr.PollChannels(8); err != nil {
		t.Fatalf("server poll: %v", err)
	}
	if b.mgr.Link(7).State() != apicore.Connected {
		t.Fatalf("expected server CONNECTED after observing CONNECT, got %v", b.mgr.Link(7).State())
	}

	if _, err := a.mgr.PollChannels(8); err != nil {
		t.Fatalf("client poll: %v", err)
	}
	if a.mgr.Link(7).State() != apicore.Connected {
		t.Fatalf("expected client CONNECTED after server's reply, got %v", a.mgr.Link(7).State())
	}
}

// TestManagerHeartbeatTimeoutResetsPrimaryLink covers the timeout
// policy as wired through the instance manager: three consecutive
// missed PONGs on the primary link channel reset the link state via
// Link.Reset.
func TestManagerHeartbeatTimeoutResetsPrimaryLink(t *testing.T) {
	clientLink := &instance.LinkSpec{LocalID: 1, RemoteID: 2, Role: apicore.RoleClient, Primary: true}
	serverLink := &instance.LinkSpec{LocalID: 2, RemoteID: 1, Role: apicore.RoleServer, Primary: true}
	a, b := buildPeerPair(t, 3, clientLink, serverLink, true)
	defer a.stop(t)
	defer b.stop(t)

	// Drive the client link to CONNECTED first so Reset's effect (back
	// to CONNECTING) is observable as an actual transition.
	a.mgr.Link(3).Tick()
	if _, err := b.mgr.PollChannels(8); err != nil {
		t.Fatalf("server poll: %v", err)
	}
	if _, err := a.mgr.PollChannels(8); err != nil {
		t.Fatalf("client poll: %v", err)
	}
	if a.mgr.Link(3).State() != apicore.Connected {
		t.Fatalf("setup: expected client CONNECTED before the timeout test, got %v", a.mgr.Link(3).State())
	}

	hb := a.mgr.Heartbeat(3)
	for i := 0; i < apicore.HeartbeatTimeoutCnt; i++ {
		if err := hb.Process(); err != nil {
			t.Fatalf("heartbeat process %d: %v", i, err)
		}
	}
	if a.mgr.Link(3).State() != apicore.Connecting {
		t.Fatalf("expected CLIENT link reset to CONNECTING after heartbeat timeout, got %v", a.mgr.Link(3).State())
	}
	if count := a.mgr.Errors().Count(); count != 0 {
		t.Fatalf("expected no recorded errors on the happy path, got %d", count)
	}
}

// TestManagerUnmanagedChannelDeliversPayload exercises the unmanaged
// channel path end to end through two managers.
func TestManagerUnmanagedChannelDeliversPayload(t *testing.T) {
	var got []byte
	specFor := func(onRx func([]byte)) instance.ChannelSpec {
		return instance.ChannelSpec{
			ID:        1,
			Kind:      apicore.ChannelUnmanaged,
			Unmanaged: &instance.UnmanagedChannelSpec{PayloadSize: 32, OnRx: onRx},
		}
	}
	cfgA := instance.Config{Channels: []instance.ChannelSpec{specFor(nil)}, InstanceIndex: 0}
	cfgB := instance.Config{Channels: []instance.ChannelSpec{specFor(func(p []byte) { got = append([]byte(nil), p...) })}, InstanceIndex: 1}

	total, _ := instance.PlanLayout(cfgA.Channels)
	memA := make([]byte, total)
	memB := make([]byte, total)

	dbA, dbB := hw.NewSimDoorbell(), hw.NewSimDoorbell()
	brA, brB := rtos.NewSimBridge(), rtos.NewSimBridge()
	mgrA, err := instance.NewManager(cfgA, memA, memB, dbA, brA)
	if err != nil {
		t.Fatalf("new manager a: %v", err)
	}
	mgrB, err := instance.NewManager(cfgB, memB, memA, dbB, brB)
	if err != nil {
		t.Fatalf("new manager b: %v", err)
	}
	if err := dbA.Register(0, mgrA.OnDoorbell); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := dbB.Register(1, mgrB.OnDoorbell); err != nil {
		t.Fatalf("register b: %v", err)
	}
	ctx := context.Background()
	if err := mgrA.Init(ctx); err != nil {
		t.Fatalf("init a: %v", err)
	}
	if err := mgrB.Init(ctx); err != nil {
		t.Fatalf("init b: %v", err)
	}
	defer mgrA.Stop()
	defer mgrB.Stop()
	defer dbA.Close()
	defer dbB.Close()

	u := mgrA.Channel(1).Unmanaged
	copy(u.Payload(), []byte("hello unmanaged"))
	u.Tx()

	if _, err := mgrB.PollChannels(4); err != nil {
		t.Fatalf("poll b: %v", err)
	}
	if string(got[:len("hello unmanaged")]) != "hello unmanaged" {
		t.Fatalf("got %q, want the payload A sent", got[:len("hello unmanaged")])
	}
}
