package bufpool_test

import (
	"testing"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
)

func newMirroredPools(t *testing.T, numBufs, bufSize int) (*bufpool.Pool, *bufpool.Pool) {
	t.Helper()
	l := bufpool.PlanLayout(numBufs, bufSize)
	memA := make([]byte, l.Footprint())
	memB := make([]byte, l.Footprint())

	// Peer A's local window is peer B's remote window, and vice versa:
	// both sides describe the exact same physical buffer bytes.
	pa, err := bufpool.Init(1, bufSize, numBufs, memA, memB, l)
	if err != nil {
		t.Fatalf("init pool A: %v", err)
	}
	pb, err := bufpool.Init(1, bufSize, numBufs, memB, memA, l)
	if err != nil {
		t.Fatalf("init pool B: %v", err)
	}
	return pa, pb
}

// TestPoolAcquireExhaustion reproduces the scenario from :
// a pool of 4 buffers of 64 bytes each; the first four acquires return
// distinct, non-overlapping buffers and the fifth fails with NoMem.
func TestPoolAcquireExhaustion(t *testing.T) {
	pa, _ := newMirroredPools(t, 4, 64)

	seen := map[*byte]bool{}
	for i := 0; i < 4; i++ {
		buf, err := pa.Acquire(64)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if len(buf) != 64 {
			t.Fatalf("acquire %d: want 64 bytes, got %d", i, len(buf))
		}
		if seen[&buf[0]] {
			t.Fatalf("acquire %d: returned an already-seen buffer", i)
		}
		seen[&buf[0]] = true
	}

	if _, err := pa.Acquire(64); apicore.CodeOf(err) != apicore.NoMem {
		t.Fatalf("expected NoMem on 5th acquire, got %v", err)
	}
}

func TestPoolAcquireRejectsOversizedRequest(t *testing.T) {
	pa, _ := newMirroredPools(t, 2, 32)
	if _, err := pa.Acquire(33); apicore.CodeOf(err) != apicore.Inval {
		t.Fatalf("expected Inval for oversized request, got %v", err)
	}
}

// TestPoolRoundTripAcrossPeers exercises the full cyclic-ownership
// handshake: A acquires one of its own (bootstrap-populated) buffers,
// writes a payload, and B — owning the mirrored remote window — reads
// it back and releases it, which must replenish A's free list.
func TestPoolRoundTripAcrossPeers(t *testing.T) {
	pa, pb := newMirroredPools(t, 4, 16)

	buf, err := pa.Acquire(16)
	if err != nil {
		t.Fatalf("A acquire: %v", err)
	}
	copy(buf, []byte("0123456789abcdef"))

	// A fresh pool hands out buffer id 0 first, which sits right after
	// the BD ring in both peers' identically-shaped windows.
	l := bufpool.PlanLayout(4, 16)
	localOff := l.BufOffset

	remote, err := pb.RemoteSlice(localOff, 16)
	if err != nil {
		t.Fatalf("B remote slice: %v", err)
	}
	if string(remote) != "0123456789abcdef" {
		t.Fatalf("B observed %q, want the bytes A wrote", remote)
	}

	if err := pb.Release(localOff); err != nil {
		t.Fatalf("B release: %v", err)
	}

	// A's free list has grown back by one: it started with 4, A drained
	// 1, and B's release returned it, so 3 untouched buffers plus the
	// replenished one make 4 acquires succeed before exhaustion.
	got := 0
	for {
		if _, err := pa.Acquire(16); err != nil {
			break
		}
		got++
	}
	if got != 4 {
		t.Fatalf("expected 4 further acquires after replenishment, got %d", got)
	}
}
