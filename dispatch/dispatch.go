// File: dispatch/dispatch.go
// Package dispatch implements the service dispatcher: Event/Method/
// Response/ACK routing with automatic ACK generation.
// Author: momentics <momentics@gmail.com>

package dispatch

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/stack"
)

// EventHandler observes a NOTIFICATION message for its ProviderID.
type EventHandler func(h apicore.Header, payload []byte)

// MethodHandler serves a REQUEST/REQUEST_NO_RETURN for its local
// ProviderID, returning the return code and optional response bytes.
type MethodHandler func(h apicore.Header, payload []byte) (apicore.ReturnCode, []byte)

// ResponseHandler observes the single registered RESPONSE handler.
type ResponseHandler func(h apicore.Header, payload []byte)

// maxProviderID bounds the fixed-size handler registries.
const maxProviderID = int(apicore.MaxEndpointID) + 1

// Dispatcher holds the bounded service registries shared across all
// channels of an instance.
type Dispatcher struct {
	eventHandlers   [maxProviderID][]EventHandler
	methodHandlers  [maxProviderID]MethodHandler
	responseHandler ResponseHandler

	sessionCounter uint8
}

// New builds an empty dispatcher with the session counter at 1.
func New() *Dispatcher {
	return &Dispatcher{sessionCounter: 1}
}

// RegisterEventHandler appends a handler for notifications carrying
// the given ProviderID.
func (d *Dispatcher) RegisterEventHandler(providerID uint8, h EventHandler) {
	d.eventHandlers[providerID] = append(d.eventHandlers[providerID], h)
}

// RegisterMethodHandler sets the single method handler for a local
// ProviderID.
func (d *Dispatcher) RegisterMethodHandler(providerID uint8, h MethodHandler) {
	d.methodHandlers[providerID] = h
}

// RegisterResponseHandler sets the single process-wide RESPONSE
// handler.
func (d *Dispatcher) RegisterResponseHandler(h ResponseHandler) {
	d.responseHandler = h
}

// nextSessionID cycles through 1..0xFF, skipping 0.
func (d *Dispatcher) nextSessionID() uint8 {
	id := d.sessionCounter
	d.sessionCounter++
	if d.sessionCounter == 0 {
		d.sessionCounter = 1
	}
	return id
}

// Dispatch routes one inbound non-link message per the table in
// framer is the channel's framer any auto-generated
// ACK/RESPONSE is sent on.
func (d *Dispatcher) Dispatch(framer *stack.Framer, h apicore.Header, payload []byte) error {
	switch h.MessageType {
	case apicore.NotificationWithAck:
		if err := d.sendEcho(framer, h, apicore.EventAck, apicore.RCOk, nil); err != nil {
			return err
		}
		d.fireEventHandlers(h, payload)
		return nil

	case apicore.NotificationWithoutAck:
		d.fireEventHandlers(h, payload)
		return nil

	case apicore.Request:
		rc, resp := d.callMethodHandler(h, payload)
		return d.sendEcho(framer, h, apicore.Response, rc, resp)

	case apicore.RequestNoReturnWithAck:
		if err := d.sendEcho(framer, h, apicore.Ack, apicore.RCOk, nil); err != nil {
			return err
		}
		d.callMethodHandler(h, payload)
		return nil

	case apicore.RequestNoReturnWithoutAck:
		d.callMethodHandler(h, payload)
		return nil

	case apicore.Response:
		if d.responseHandler != nil {
			d.responseHandler(h, payload)
		}
		return nil

	case apicore.Ack, apicore.EventAck:
		return nil // swallowed at middleware

	default:
		return apicore.New(apicore.NotSup, "unrecognized service MessageType").
			WithContext("type", h.MessageType)
	}
}

func (d *Dispatcher) fireEventHandlers(h apicore.Header, payload []byte) {
	for _, handler := range d.eventHandlers[h.ProviderID] {
		handler(h, payload)
	}
}

func (d *Dispatcher) callMethodHandler(h apicore.Header, payload []byte) (apicore.ReturnCode, []byte) {
	handler := d.methodHandlers[h.ProviderID]
	if handler == nil {
		return apicore.RCNotOk, nil
	}
	return handler(h, payload)
}

// sendEcho builds a reply carrying the same addressing fields
// (ProviderID, MethodID, ConsumerID, SessionID) as the triggering
// message, only changing MessageType/ReturnCode/payload (matches
// scenario 1's EVENT_ACK example header).
func (d *Dispatcher) sendEcho(framer *stack.Framer, h apicore.Header, mt apicore.MessageType, rc apicore.ReturnCode, payload []byte) error {
	reply := apicore.Header{
		ProviderID:  h.ProviderID,
		MethodID:    h.MethodID,
		ConsumerID:  h.ConsumerID,
		SessionID:   h.SessionID,
		MessageType: mt,
		ReturnCode:  rc,
		Length:      uint16(len(payload)),
	}
	return framer.AddMessage(reply, payload)
}

// SendEvent emits a NOTIFICATION_WITH_ACK (withAck) or
// NOTIFICATION_WITHOUT_ACK message, allocating a SessionID only when
// withAck is set.
func (d *Dispatcher) SendEvent(framer *stack.Framer, provider, event, consumer uint8, data []byte, withAck bool) error {
	var session uint8
	mt := apicore.NotificationWithoutAck
	if withAck {
		mt = apicore.NotificationWithAck
		session = d.nextSessionID()
	}
	h := apicore.Header{
		ProviderID: provider, MethodID: event, ConsumerID: consumer, SessionID: session,
		MessageType: mt, ReturnCode: apicore.RCOk, Length: uint16(len(data)),
	}
	return framer.AddMessage(h, data)
}

// SendMethodRequest emits a REQUEST and returns the SessionID used, or
// 0 on failure.
func (d *Dispatcher) SendMethodRequest(framer *stack.Framer, provider, method, consumer uint8, data []byte, mt apicore.MessageType) (uint8, error) {
	session := d.nextSessionID()
	h := apicore.Header{
		ProviderID: provider, MethodID: method, ConsumerID: consumer, SessionID: session,
		MessageType: mt, ReturnCode: apicore.RCOk, Length: uint16(len(data)),
	}
	if err := framer.AddMessage(h, data); err != nil {
		return 0, err
	}
	return session, nil
}

// SendResponse emits a RESPONSE carrying the given SessionID and
// return code. ProviderID is left zero, same as the original's
// PICC_ServiceResponseSend ("set by caller"): the auto-generated
// RESPONSE path in Dispatch echoes the triggering REQUEST's
// ProviderID instead and is what every end-to-end scenario in this
// module actually exercises; this helper exists for a caller that
// wants to emit a RESPONSE outside that auto-ACK path.
func (d *Dispatcher) SendResponse(framer *stack.Framer, consumer, method uint8, session uint8, rc apicore.ReturnCode, data []byte) error {
	h := apicore.Header{
		ProviderID: 0, MethodID: method, ConsumerID: consumer, SessionID: session,
		MessageType: apicore.Response, ReturnCode: rc, Length: uint16(len(data)),
	}
	return framer.AddMessage(h, data)
}
