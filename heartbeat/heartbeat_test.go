package heartbeat_test

import (
	"testing"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
	"github.com/momentics/picc-ipc/channel"
	"github.com/momentics/picc-ipc/heartbeat"
	"github.com/momentics/picc-ipc/shm"
	"github.com/momentics/picc-ipc/stack"
)

type capturingDispatcher struct {
	pings, pongs int
}

func (c *capturingDispatcher) DispatchMessage(apicore.Header, []byte) {}
func (c *capturingDispatcher) DispatchHeartbeat(isPing bool) {
	if isPing {
		c.pings++
	} else {
		c.pongs++
	}
}

func newFramerPair(t *testing.T) (*stack.Framer, *stack.Framer, *channel.Managed, *channel.Managed, *capturingDispatcher, *capturingDispatcher) {
	t.Helper()
	bufSize, numBufs := 32, 4
	l := bufpool.PlanLayout(numBufs, bufSize)
	memA := make([]byte, l.Footprint())
	memB := make([]byte, l.Footprint())
	poolA, err := bufpool.Init(1, bufSize, numBufs, memA, memB, l)
	if err != nil {
		t.Fatalf("pool a: %v", err)
	}
	poolB, err := bufpool.Init(1, bufSize, numBufs, memB, memA, l)
	if err != nil {
		t.Fatalf("pool b: %v", err)
	}
	size := shm.RingSize(bufpool.BDSize, 8)
	bufA := make([]byte, size)
	bufB := make([]byte, size)
	ra, _ := shm.NewRing(bufA, bufpool.BDSize, 8)
	rb, _ := shm.NewRing(bufB, bufpool.BDSize, 8)
	ra.MarkInitDone()
	rb.MarkInitDone()
	qa, _ := shm.NewQueue(ra, rb, shm.KindChannel)
	qb, _ := shm.NewQueue(rb, ra, shm.KindChannel)

	dspA := &capturingDispatcher{}
	dspB := &capturingDispatcher{}

	var fa, fb *stack.Framer
	chA, err := channel.NewManaged(0, []*bufpool.Pool{poolA}, qa, func(buf []byte) { fa.ProcessRx(buf) })
	if err != nil {
		t.Fatalf("chan a: %v", err)
	}
	chB, err := channel.NewManaged(0, []*bufpool.Pool{poolB}, qb, func(buf []byte) { fb.ProcessRx(buf) })
	if err != nil {
		t.Fatalf("chan b: %v", err)
	}
	fa = stack.NewFramer(chA, dspA, 256, true)
	fb = stack.NewFramer(chB, dspB, 256, true)
	return fa, fb, chA, chB, dspA, dspB
}

func TestHeartbeatPingObservedByPeer(t *testing.T) {
	fa, _, _, chB, _, dspB := newFramerPair(t)
	ma := heartbeat.NewMonitor(fa, nil)
	if err := ma.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ma.MissCount() != 1 {
		t.Fatalf("expected miss count 1 right after sending a PING, got %d", ma.MissCount())
	}

	work, err := chB.Rx(4)
	if err != nil || work != 1 {
		t.Fatalf("server rx: work=%d err=%v", work, err)
	}
	if dspB.pings != 1 {
		t.Fatalf("expected the peer to observe exactly one ping, got %d", dspB.pings)
	}
}

func TestHeartbeatTimeoutFiresAtThreeMisses(t *testing.T) {
	fa, _, _, _, _, _ := newFramerPair(t)
	var fired int
	m := heartbeat.NewMonitor(fa, func() { fired++ })
	for i := 0; i < apicore.HeartbeatTimeoutCnt-1; i++ {
		if err := m.Process(); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if fired != 0 {
			t.Fatalf("timeout fired early at miss %d", i+1)
		}
	}
	if err := m.Process(); err != nil {
		t.Fatalf("final process: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected timeout to fire exactly once at the threshold, got %d", fired)
	}
	if m.MissCount() != 0 {
		t.Fatalf("expected miss counter reset after timeout, got %d", m.MissCount())
	}
}

func TestHeartbeatPongResetsMissCounter(t *testing.T) {
	fa, _, _, _, _, _ := newFramerPair(t)
	m := heartbeat.NewMonitor(fa, nil)
	m.Process()
	m.Process()
	if m.MissCount() != 2 {
		t.Fatalf("expected miss count 2, got %d", m.MissCount())
	}
	m.OnPong()
	if m.MissCount() != 0 {
		t.Fatalf("expected OnPong to reset miss count, got %d", m.MissCount())
	}
}
