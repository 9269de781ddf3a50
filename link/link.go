// File: link/link.go
// Package link implements the connect/disconnect/reconnect state
// machine over a channel's framer.
// Author: momentics <momentics@gmail.com>

package link

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/stack"
)

// MediaType identifies the transport carrying the link.
type MediaType uint8

const MediaIPCF MediaType = 0x01

// StateChangeFunc is invoked whenever a link transitions state. It may
// be called twice in a row for the same inbound message.
type StateChangeFunc func(remoteID uint8, state apicore.LinkState)

// Link is the per-channel connection context.
// A Link with Primary=false never originates PDUs from Tick. It keeps
// its own state, changed only by inbound LINK_AVAILABLE messages; that
// state is not synchronized with the primary link of the instance.
type Link struct {
	LocalID  uint8
	RemoteID uint8
	Role     apicore.Role
	Primary  bool

	state   apicore.LinkState
	backoff int

	framer   *stack.Framer
	onChange StateChangeFunc
}

// New constructs a Link in its role's starting state: CLIENT begins
// CONNECTING, SERVER begins DISCONNECTED.
func New(localID, remoteID uint8, role apicore.Role, primary bool, framer *stack.Framer, onChange StateChangeFunc) *Link {
	state := apicore.Disconnected
	if role == apicore.RoleClient {
		state = apicore.Connecting
	}
	return &Link{
		LocalID: localID, RemoteID: remoteID, Role: role, Primary: primary,
		state: state, framer: framer, onChange: onChange,
	}
}

// State returns the current connection state.
func (l *Link) State() apicore.LinkState { return l.state }

func (l *Link) setState(s apicore.LinkState) {
	l.state = s
	if l.onChange != nil {
		l.onChange(l.RemoteID, s)
	}
}

// Tick drives the CLIENT backoff/retry loop; a no-op for SERVER role
// or non-primary links, and for any link not currently CONNECTING.
func (l *Link) Tick() {
	if !l.Primary || l.Role != apicore.RoleClient || l.state != apicore.Connecting {
		return
	}
	if l.backoff > 0 {
		l.backoff--
		return
	}
	if err := l.sendConnectPDU(apicore.SubTypeConnect, apicore.RCNotOk); err != nil {
		l.backoff = NextBackoff(l.backoff)
		return
	}
	l.backoff = 0
}

// Reset forces the link back to its role's "not connected" state: the
// CLIENT resumes retrying from CONNECTING, the SERVER waits in
// DISCONNECTED for a fresh CONNECT. Only a primary link's heartbeat
// timeout calls this; secondary channels report timeout without
// changing link state.
func (l *Link) Reset() {
	if l.Role == apicore.RoleClient {
		l.setState(apicore.Connecting)
	} else {
		l.setState(apicore.Disconnected)
	}
}

func (l *Link) sendConnectPDU(subType apicore.LinkSubType, rc apicore.ReturnCode) error {
	h := apicore.Header{
		ProviderID:  l.LocalID,
		MethodID:    0,
		ConsumerID:  l.RemoteID,
		SessionID:   0,
		MessageType: apicore.LinkAvailable,
		ReturnCode:  rc,
	}
	payload := []byte{byte(subType), l.LocalID, byte(MediaIPCF), l.RemoteID}
	h.Length = uint16(len(payload))
	if err := l.framer.AddMessage(h, payload); err != nil {
		return err
	}
	return l.framer.Flush()
}

// HandleMessage processes one inbound LINK_AVAILABLE PDU.
func (l *Link) HandleMessage(h apicore.Header, payload []byte) error {
	if len(payload) < 4 {
		return apicore.New(apicore.Inval, "link PDU payload shorter than 4 bytes")
	}
	subType := apicore.LinkSubType(payload[0])

	switch subType {
	case apicore.SubTypeConnect:
		if l.Role == apicore.RoleServer {
			l.setState(apicore.Connected)
			return l.sendConnectPDU(apicore.SubTypeConnect, apicore.RCOk)
		}
		// CLIENT receiving a CONNECT response.
		if h.ReturnCode == apicore.RCOk {
			l.setState(apicore.Connected)
		} else {
			l.setState(apicore.Disconnected)
		}
		return nil

	case apicore.SubTypeDisconnect:
		l.setState(apicore.Disconnected)
		if err := l.sendConnectPDU(apicore.SubTypeDisconnect, apicore.RCOk); err != nil {
			return err
		}
		if l.Role == apicore.RoleClient {
			// A CLIENT immediately starts retrying after
			// acknowledging the disconnect, so this fires the
			// state callback twice in a row (DISCONNECTED then
			// CONNECTING); callers that care about the final
			// state should read Link.State(), not the callback
			// argument.
			l.setState(apicore.Connecting)
		}
		return nil

	case apicore.SubTypeReconnect:
		l.setState(apicore.Disconnected)
		if l.Role == apicore.RoleClient {
			l.setState(apicore.Connecting)
		}
		return nil

	default:
		return apicore.New(apicore.Inval, "unknown link PDU subtype")
	}
}
