// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
//
// Channel is a sum type over {Managed, Unmanaged}. Both variants share the id/kind head; every Rx dispatch
// and size computation branches on Kind.

package channel

import "github.com/momentics/picc-ipc/apicore"

// Channel is the tagged union the instance manager iterates over.
// Exactly one of Managed/Unmanaged is non-nil, selected by Kind.
type Channel struct {
	ID   int
	Kind apicore.ChannelKind

	Managed   *Managed
	Unmanaged *Unmanaged
}

// NewManagedChannel wraps a Managed channel in the tagged union.
func NewManagedChannel(m *Managed) *Channel {
	return &Channel{ID: m.ID, Kind: apicore.ChannelManaged, Managed: m}
}

// NewUnmanagedChannel wraps an Unmanaged channel in the tagged union.
func NewUnmanagedChannel(u *Unmanaged) *Channel {
	return &Channel{ID: u.ID, Kind: apicore.ChannelUnmanaged, Unmanaged: u}
}

// Free releases this peer's own channel resources, routed by Kind.
func (c *Channel) Free() {
	switch c.Kind {
	case apicore.ChannelManaged:
		c.Managed.Free()
	case apicore.ChannelUnmanaged:
		c.Unmanaged.Free()
	}
}

// Rx drives one channel's receive path within the given per-channel
// work budget, returning how much work was actually performed. For an
// unmanaged channel, a fired Rx counts as exactly one unit of work.
func (c *Channel) Rx(budget int) (int, error) {
	switch c.Kind {
	case apicore.ChannelManaged:
		return c.Managed.Rx(budget)
	case apicore.ChannelUnmanaged:
		if c.Unmanaged.Rx() {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apicore.New(apicore.Inval, "unknown channel kind")
	}
}
