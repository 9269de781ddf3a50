// File: instance/config.go
// Package instance composes the ring/pool/channel layers with the
// stack/link/heartbeat/dispatch middleware into one independently
// configured IPC binding between the local core and one remote core.
// Author: momentics <momentics@gmail.com>

package instance

import (
	"time"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/heartbeat"
	"github.com/momentics/picc-ipc/link"
)

// PoolSpec describes one buffer-size class of a managed channel. Pools
// of a channel must be given in ascending BufSize order.
type PoolSpec struct {
	BufSize int
	NumBufs int
}

// ManagedChannelSpec configures a pool-backed channel.
type ManagedChannelSpec struct {
	Pools           []PoolSpec
	BDQueueCapacity int // in-flight message slots on the channel's own BD queue
}

// UnmanagedChannelSpec configures a whole-region channel.
type UnmanagedChannelSpec struct {
	PayloadSize int
	OnRx        func(payload []byte)
}

// LinkSpec attaches the link state machine to a managed channel. Only
// Primary links originate CONNECT/DISCONNECT/RECONNECT
// PDUs; a non-primary link keeps its own state, driven only by the
// inbound LINK_AVAILABLE messages its channel's router forwards to it,
// and is not synchronized with the primary link's state.
type LinkSpec struct {
	LocalID, RemoteID uint8
	Role              apicore.Role
	Primary           bool
	OnStateChange     link.StateChangeFunc
}

// ChannelSpec is one entry of Config.Channels, a tagged union over
// {Managed, Unmanaged} plus the optional messaging middleware that
// rides on top of a managed channel.
type ChannelSpec struct {
	ID   int
	Kind apicore.ChannelKind

	Managed   *ManagedChannelSpec
	Unmanaged *UnmanagedChannelSpec

	// Messaging middleware, meaningful only when Kind == ChannelManaged.
	MaxFrameSize       int
	CRCEnabled         bool
	Link               *LinkSpec
	Heartbeat          bool
	OnHeartbeatTimeout heartbeat.TimeoutFunc
}

// Config is the instance-wide configuration surface. LocalShmAddr/RemoteShmAddr/ShmSize are
// implicit here: the caller supplies already-sized, already-mirrored
// local and remote []byte windows to NewManager instead of raw addresses, since Go
// has no notion of a bare physical address to hand the ring code.
type Config struct {
	Channels   []ChannelSpec
	LocalCore  apicore.CoreConfig
	RemoteCore apicore.CoreConfig

	// InstanceIndex is the slot this instance occupies among the
	// platform's up-to-IPC_SHM_MAX_INSTANCES independent bindings; it
	// is the argument passed to every apicore.Doorbell call.
	InstanceIndex int

	TickPeriod      time.Duration // default apicore.TickPeriodMS
	HeartbeatPeriod time.Duration // default apicore.HeartbeatPeriodMS

	// PollBudget bounds one PollChannels call or one deferred-task
	// drain.
	PollBudget int

	// TraceCapacity sizes the error-site ring; 0 selects
	// a sensible default.
	TraceCapacity int
}

func (c Config) tickPeriod() time.Duration {
	if c.TickPeriod > 0 {
		return c.TickPeriod
	}
	return apicore.TickPeriodMS * time.Millisecond
}

func (c Config) heartbeatPeriod() time.Duration {
	if c.HeartbeatPeriod > 0 {
		return c.HeartbeatPeriod
	}
	return apicore.HeartbeatPeriodMS * time.Millisecond
}

func (c Config) pollBudget() int {
	if c.PollBudget > 0 {
		return c.PollBudget
	}
	return 16
}
