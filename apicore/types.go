// File: apicore/types.go
// Author: momentics <momentics@gmail.com>
//
// Wire-level constants and shared DTOs: the PICC protocol header, the
// ring sentinel magic values, and the per-instance shared memory
// layout constants.

package apicore

// Ring sentinel magic values. A ring transitions
// 0 -> InitInProgress -> InitDone; any other value read back is
// either an uninitialized or corrupted ring.
const (
	SentinelClear           uint64 = 0
	SentinelInitInProgress  uint64 = 0x54494E4946435049
	SentinelInitDone        uint64 = 0x474E495246435049
)

// GlobalReady / GlobalClear are the two values of a per-instance
// Global word signaling peer readiness.
const (
	GlobalReady uint64 = 0x3252455646435049
	GlobalClear uint64 = 0
)

// RingHeaderSize is the bit-exact layout of a ring header in shared
// memory: 8-byte sentinel, 4-byte write index, 4-byte read index.
const RingHeaderSize = 16

// Unmanaged-channel control-struct sentinel values: a separate, 32-bit
// sentinel word from the ring's 64-bit one, following the same
// 0 -> InitInProgress -> InitDone lifecycle.
const (
	Sentinel32Clear          uint32 = 0
	Sentinel32InitInProgress uint32 = 0x46435049
	Sentinel32InitDone       uint32 = 0x49504346
)

// MessageType enumerates the PICC protocol message kinds.
type MessageType uint8

const (
	LinkAvailable              MessageType = 0x00
	Subscribe                  MessageType = 0x03
	StopSubscribe              MessageType = 0x04
	Request                    MessageType = 0x05
	RequestNoReturnWithAck     MessageType = 0x06
	RequestNoReturnWithoutAck  MessageType = 0x07
	NotificationWithAck        MessageType = 0x08
	NotificationWithoutAck     MessageType = 0x09
	Response                   MessageType = 0x80
	Ack                        MessageType = 0x81
	EventAck                   MessageType = 0x82
	ErrorMsg                   MessageType = 0x99
)

// ReturnCode values carried in the PICC header.
type ReturnCode uint8

const (
	RCOk     ReturnCode = 0
	RCNotOk  ReturnCode = 1
	RCNotRdy ReturnCode = 2
)

// HeaderSize is the fixed 8-byte PICC message header.
const HeaderSize = 8

// Header is the 8-byte per-message protocol header.
// Length is carried big-endian on the wire; the in-memory field holds
// the decoded host value.
type Header struct {
	ProviderID  uint8
	MethodID    uint8
	ConsumerID  uint8
	SessionID   uint8
	MessageType MessageType
	ReturnCode  ReturnCode
	Length      uint16
}

// Valid id range for Provider/Consumer/Method ids, and for SessionID.
const (
	MinEndpointID uint8 = 0x01
	MaxEndpointID uint8 = 0xFE
	MinSessionID  uint8 = 0x01
	MaxSessionID  uint8 = 0xFF
)

// BD is the 64-bit buffer descriptor exchanged between the two BD
// rings of a managed channel.
type BD struct {
	PoolID   uint16
	BufferID uint16
	Length   uint32
}

// Role of a link endpoint.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// LinkState is the connection state of a link-monitored channel.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// LinkSubType is the Connect-PDU SubType field.
type LinkSubType uint8

const (
	SubTypeConnect    LinkSubType = 0x01
	SubTypeDisconnect LinkSubType = 0x02
	SubTypeReconnect  LinkSubType = 0x03
)

// Heartbeat tuning constants.
const (
	HeartbeatPeriodMS   = 2000
	HeartbeatTimeoutCnt = 3
	TickPeriodMS        = 10
)

// HeartbeatMessageLen is the fixed inner-payload length of a PING/PONG
// frame; used by the framer to decide whether a frame is heartbeat
// traffic before it tries to parse message headers.
const HeartbeatMessageLen = 9

// Ping / Pong are the fixed 9-byte heartbeat patterns.
var (
	Ping = [HeartbeatMessageLen]byte{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0x00, 0x01, 0x00}
	Pong = [HeartbeatMessageLen]byte{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0x00, 0x01, 0x01}
)

// ChannelKind discriminates the tagged channel union.
type ChannelKind int

const (
	ChannelManaged ChannelKind = iota
	ChannelUnmanaged
)

// CoreType names a logical core participating in an instance.
type CoreType int

const (
	CoreRealTime CoreType = iota
	CoreApplication
)

// CoreConfig describes one side of the instance's binding.
type CoreConfig struct {
	Type        CoreType
	Index       int
	TrustedMask uint32
}

// Stack frame overhead: 1-byte CRC-enable flag + 2-byte counter +
// 2-byte CRC16, framing every flushed buffer.
const StackFrameOverhead = 1 + 2 + 2

// MaxBufsPerChannel caps total buffers across all pools of one
// managed channel.
const MaxBufsPerChannel = 64
