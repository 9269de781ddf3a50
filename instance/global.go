// File: instance/global.go
// Author: momentics <momentics@gmail.com>
//
// Global wraps the 8-byte per-instance readiness word at offset 0 of
// shared memory. A peer is "ready" iff its own
// Global word reads READY; is_remote_ready inspects the peer's copy
// after an explicit cache-remote flush.

package instance

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/picc-ipc/apicore"
)

// Global is one instance's readiness handshake word, viewed from both
// the local and the mirrored remote shared-memory window.
type Global struct {
	local  []byte
	remote []byte
}

func newGlobal(localWindow, remoteWindow []byte) *Global {
	return &Global{local: localWindow[:GlobalSize], remote: remoteWindow[:GlobalSize]}
}

func globalPtr(b []byte) *uint64 { return (*uint64)(unsafe.Pointer(&b[0])) }

// SetReady flips this peer's own Global word to READY.
func (g *Global) SetReady() { atomic.StoreUint64(globalPtr(g.local), apicore.GlobalReady) }

// Clear resets this peer's own Global word to CLEAR (instance teardown).
func (g *Global) Clear() { atomic.StoreUint64(globalPtr(g.local), apicore.GlobalClear) }

// IsReady reports whether this peer's own Global word is READY.
func (g *Global) IsReady() bool {
	return atomic.LoadUint64(globalPtr(g.local)) == apicore.GlobalReady
}

// IsRemoteReady inspects the peer's Global word. The caller is
// responsible for issuing FlushCacheRemote beforehand so this read
// observes the peer's latest write.
func (g *Global) IsRemoteReady() bool {
	return atomic.LoadUint64(globalPtr(g.remote)) == apicore.GlobalReady
}
