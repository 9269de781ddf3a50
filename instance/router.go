// File: instance/router.go
// Author: momentics <momentics@gmail.com>
//
// channelRouter adapts one managed channel's framer output into the
// link state machine, the heartbeat monitor, and the shared service
// dispatcher. It is the stack.Dispatcher each channel's
// Framer is built with.

package instance

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/dispatch"
	"github.com/momentics/picc-ipc/heartbeat"
	"github.com/momentics/picc-ipc/link"
	"github.com/momentics/picc-ipc/stack"
)

type channelRouter struct {
	mgr     *Manager
	framer  *stack.Framer
	link    *link.Link
	hb      *heartbeat.Monitor
	dsp     *dispatch.Dispatcher
}

var _ stack.Dispatcher = (*channelRouter)(nil)

// DispatchMessage routes LINK_AVAILABLE frames to the channel's link
// context (if any) and everything else to the shared service
// dispatcher.
func (r *channelRouter) DispatchMessage(h apicore.Header, payload []byte) {
	var err error
	switch {
	case h.MessageType == apicore.LinkAvailable:
		if r.link != nil {
			err = r.link.HandleMessage(h, payload)
		}
	default:
		err = r.dsp.Dispatch(r.framer, h, payload)
	}
	if err != nil {
		r.mgr.recordError(err)
	}
}

// DispatchHeartbeat handles the framer's PING/PONG short-circuit
//: an inbound PING gets an immediate PONG flush, an
// inbound PONG resets the miss counter.
func (r *channelRouter) DispatchHeartbeat(isPing bool) {
	if r.hb == nil {
		return
	}
	if isPing {
		if err := r.hb.OnPing(); err != nil {
			r.mgr.recordError(err)
		}
		return
	}
	r.hb.OnPong()
}
