// File: stack/framer.go
// Package stack implements the PICC stacking layer: a per-channel
// staging buffer that batches messages into CRC16+counter-framed
// transport frames, and the inverse parse on receive.
// Author: momentics <momentics@gmail.com>

package stack

import (
	"encoding/binary"

	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/channel"
)

// crcEnableByte values: 0 means CRC is enabled, 1 disabled.
const (
	crcEnabled  byte = 0
	crcDisabled byte = 1
)

// Dispatcher receives parsed inbound messages and heartbeat frames.
type Dispatcher interface {
	// DispatchMessage handles one inner message whose MessageType is
	// not a heartbeat frame (link and service messages alike land
	// here; the link/dispatch packages tell them apart by header).
	DispatchMessage(h apicore.Header, payload []byte)

	// DispatchHeartbeat handles a frame whose entire inner payload
	// matched the fixed PING or PONG pattern.
	DispatchHeartbeat(isPing bool)
}

// Framer is the per-channel framing context: a local staging buffer, write cursor, Tx counter and a
// diagnostic mirrored Rx counter.
type Framer struct {
	ch  *channel.Managed
	dsp Dispatcher

	staging    []byte
	used       int
	txCounter  uint16
	rxCounter  uint16
	crcEnabled bool
}

// NewFramer builds a framer whose staging buffer holds up to
// maxFrameSize-apicore.StackFrameOverhead bytes of aggregated
// messages.
func NewFramer(ch *channel.Managed, dsp Dispatcher, maxFrameSize int, crcEnabled bool) *Framer {
	stagingCap := maxFrameSize - apicore.StackFrameOverhead
	if stagingCap < 0 {
		stagingCap = 0
	}
	return &Framer{
		ch:         ch,
		dsp:        dsp,
		staging:    make([]byte, stagingCap),
		txCounter:  1, // never zero; wraps 1..65535
		crcEnabled: crcEnabled,
	}
}

// nextCounter advances the Tx counter, skipping zero on wraparound.
func (f *Framer) nextCounter() uint16 {
	c := f.txCounter
	f.txCounter++
	if f.txCounter == 0 {
		f.txCounter = 1
	}
	return c
}

// AddMessage copies header+payload into the staging buffer, flushing
// first (synchronously) if there isn't enough room.
func (f *Framer) AddMessage(h apicore.Header, payload []byte) error {
	need := apicore.HeaderSize + len(payload)
	if f.used+need > len(f.staging) {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if need > len(f.staging) {
		return apicore.New(apicore.Inval, "message does not fit in the staging buffer even when empty")
	}
	marshalHeader(h, f.staging[f.used:f.used+apicore.HeaderSize])
	copy(f.staging[f.used+apicore.HeaderSize:f.used+need], payload)
	f.used += need
	return nil
}

// Flush packs the staged messages into one transport frame and sends
// it. A NotReady/NoMem failure leaves the staged bytes intact so the
// next periodic tick can retry.
func (f *Framer) Flush() error {
	if f.used == 0 {
		return nil
	}
	if err := f.sendFrame(f.staging[:f.used]); err != nil {
		return err
	}
	f.used = 0
	return nil
}

// sendFrame wraps inner in the CRC-enable/counter/CRC16 envelope and
// sends it as a single transport frame.
func (f *Framer) sendFrame(inner []byte) error {
	total := 1 + len(inner) + 4
	buf, pool, off, err := f.ch.AcquireTxBuffer(total)
	if err != nil {
		return err
	}

	if f.crcEnabled {
		buf[0] = crcEnabled
	} else {
		buf[0] = crcDisabled
	}
	copy(buf[1:1+len(inner)], inner)
	counter := f.nextCounter()
	binary.BigEndian.PutUint16(buf[1+len(inner):1+len(inner)+2], counter)
	crc := crc16(buf[:1+len(inner)+2])
	binary.BigEndian.PutUint16(buf[1+len(inner)+2:1+len(inner)+4], crc)

	return f.ch.Send(pool, off, total)
}

// SendHeartbeat flushes any pending staged messages first (preserving
// FIFO order on the channel), then sends raw as its own frame's entire
// inner payload, bypassing the 8-byte message header entirely — PING
// and PONG are not header-framed messages.
func (f *Framer) SendHeartbeat(raw [apicore.HeartbeatMessageLen]byte) error {
	if err := f.Flush(); err != nil {
		return err
	}
	return f.sendFrame(raw[:])
}

// HasPendingContent reports whether the staging buffer holds bytes
// not yet flushed; the 10 ms periodic tick only flushes channels for
// which this is true.
func (f *Framer) HasPendingContent() bool { return f.used > 0 }

// ProcessRx validates, CRC-checks, and parses one received frame,
// dispatching each inner message (or a heartbeat short-circuit) to the
// Dispatcher.
func (f *Framer) ProcessRx(frame []byte) error {
	if len(frame) < 5 {
		return apicore.New(apicore.Inval, "frame shorter than the 5-byte minimum")
	}
	crcEnable := frame[0] == crcEnabled
	counterOff := len(frame) - 4
	counter := binary.BigEndian.Uint16(frame[counterOff : counterOff+2])
	crcField := binary.BigEndian.Uint16(frame[counterOff+2:])

	if crcEnable {
		computed := crc16(frame[:counterOff+2])
		if computed != crcField {
			return apicore.New(apicore.Integrity, "frame CRC mismatch")
		}
	}
	f.rxCounter = counter

	inner := frame[1:counterOff]
	if len(inner) == apicore.HeartbeatMessageLen {
		if isPingPattern(inner) {
			f.dsp.DispatchHeartbeat(true)
			return nil
		}
		if isPongPattern(inner) {
			f.dsp.DispatchHeartbeat(false)
			return nil
		}
	}

	offset := 0
	for offset+apicore.HeaderSize <= len(inner) {
		h := unmarshalHeader(inner[offset : offset+apicore.HeaderSize])
		payloadEnd := offset + apicore.HeaderSize + int(h.Length)
		if payloadEnd > len(inner) {
			break // malformed header that would exceed remaining bytes
		}
		payload := inner[offset+apicore.HeaderSize : payloadEnd]
		f.dsp.DispatchMessage(h, payload)
		offset = payloadEnd
	}
	return nil
}

// RxCounter returns the last observed (advisory-only) Rx counter.
func (f *Framer) RxCounter() uint16 { return f.rxCounter }

func isPingPattern(b []byte) bool {
	for i := range apicore.Ping {
		if b[i] != apicore.Ping[i] {
			return false
		}
	}
	return true
}

func isPongPattern(b []byte) bool {
	for i := range apicore.Pong {
		if b[i] != apicore.Pong[i] {
			return false
		}
	}
	return true
}
