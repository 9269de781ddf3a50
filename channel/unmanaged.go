// File: channel/unmanaged.go
// Author: momentics <momentics@gmail.com>

package channel

import (
	"sync/atomic"

	"github.com/momentics/picc-ipc/apicore"
)

// unmanagedControlSize is the 16-byte control struct laid out before
// the payload region: sentinel u32, tx_count u32, remote_tx_count u32,
// reserved 4 B.
const unmanagedControlSize = 16

const (
	umSentinelOff = 0
	umTxCountOff  = 4
	umRemoteOff   = 8
)

// Unmanaged is a single fixed-size region with two per-side control
// words; the middleware only signals "the peer incremented its
// counter" on Rx.
type Unmanaged struct {
	ID int

	local  []byte // this peer's control+payload window
	remote []byte // the peer's mirrored control+payload window
	onRx   func(payload []byte)

	payloadSize int
}

// UnmanagedFootprint returns the total local/remote window size an
// unmanaged channel of the given payload size occupies: the 16-byte
// control struct plus the payload region, used by the
// instance layout pass to place channels back to back.
func UnmanagedFootprint(payloadSize int) int {
	return unmanagedControlSize + payloadSize
}

// NewUnmanaged wires an unmanaged channel over symmetric local/remote
// windows, each unmanagedControlSize+payloadSize bytes.
func NewUnmanaged(id int, local, remote []byte, payloadSize int, onRx func([]byte)) (*Unmanaged, error) {
	need := unmanagedControlSize + payloadSize
	if len(local) < need || len(remote) < need {
		return nil, apicore.New(apicore.NoMem, "unmanaged channel backing memory too small")
	}
	return &Unmanaged{ID: id, local: local, remote: remote, payloadSize: payloadSize, onRx: onRx}, nil
}

func (u *Unmanaged) sentinelPtr() *uint32     { return bytesAsUint32(u.local[umSentinelOff:]) }
func (u *Unmanaged) txCountPtr() *uint32      { return bytesAsUint32(u.local[umTxCountOff:]) }
func (u *Unmanaged) remoteMirrorPtr() *uint32 { return bytesAsUint32(u.local[umRemoteOff:]) }
func (u *Unmanaged) remoteTxCountPtr() *uint32 {
	return bytesAsUint32(u.remote[umTxCountOff:])
}

// remoteMirrorOfUsPtr reads the peer's mirror of our own tx_count, out
// of the peer's control window.
func (u *Unmanaged) remoteMirrorOfUsPtr() *uint32 {
	return bytesAsUint32(u.remote[umRemoteOff:])
}

// Init synchronizes the control words the same way a ring init does,
// using a sentinel: adopts the peer's counters if it is already
// INIT_DONE, otherwise starts at zero. On resume, our tx_count picks up
// where the peer's mirror of it left off, and our mirror of the peer
// picks up the peer's current tx_count, so Rx does not re-fire against
// data the peer already delivered before this side restarted.
func (u *Unmanaged) Init() error {
	remoteSentinel := atomic.LoadUint32(bytesAsUint32(u.remote[umSentinelOff:]))
	if remoteSentinel == apicore.Sentinel32InitInProgress {
		return apicore.New(apicore.RemoteInitInProgress, "peer unmanaged channel is mid-initialization")
	}
	atomic.StoreUint32(u.sentinelPtr(), apicore.Sentinel32InitInProgress)
	if remoteSentinel == apicore.Sentinel32InitDone {
		atomic.StoreUint32(u.txCountPtr(), atomic.LoadUint32(u.remoteMirrorOfUsPtr()))
		atomic.StoreUint32(u.remoteMirrorPtr(), atomic.LoadUint32(u.remoteTxCountPtr()))
	} else {
		atomic.StoreUint32(u.txCountPtr(), 0)
		atomic.StoreUint32(u.remoteMirrorPtr(), 0)
	}
	return nil
}

// MarkInitDone flips this peer's sentinel to INIT_DONE.
func (u *Unmanaged) MarkInitDone() {
	atomic.StoreUint32(u.sentinelPtr(), apicore.Sentinel32InitDone)
}

// Free clears this peer's own sentinel word.
func (u *Unmanaged) Free() {
	atomic.StoreUint32(u.sentinelPtr(), apicore.Sentinel32Clear)
}

// Payload returns this peer's local writable payload window.
func (u *Unmanaged) Payload() []byte {
	return u.local[unmanagedControlSize : unmanagedControlSize+u.payloadSize]
}

// Tx bumps this peer's Tx counter; the caller is responsible for cache
// flush and doorbell ring, same as a managed Send.
func (u *Unmanaged) Tx() {
	atomic.AddUint32(u.txCountPtr(), 1)
}

// Rx observes whether the peer's tx_count advanced since the last
// observation; if so it invokes onRx with the whole remote payload
// region and updates the mirrored counter to suppress re-firing.
func (u *Unmanaged) Rx() bool {
	remoteTx := atomic.LoadUint32(u.remoteTxCountPtr())
	mirror := atomic.LoadUint32(u.remoteMirrorPtr())
	if remoteTx == mirror {
		return false
	}
	if u.onRx != nil {
		u.onRx(u.remote[unmanagedControlSize : unmanagedControlSize+u.payloadSize])
	}
	atomic.StoreUint32(u.remoteMirrorPtr(), remoteTx)
	return true
}
