// File: stack/wire.go
// Author: momentics <momentics@gmail.com>

package stack

import (
	"encoding/binary"

	"github.com/momentics/picc-ipc/apicore"
)

// marshalHeader encodes an 8-byte PICC message header into dst.
func marshalHeader(h apicore.Header, dst []byte) {
	dst[0] = h.ProviderID
	dst[1] = h.MethodID
	dst[2] = h.ConsumerID
	dst[3] = h.SessionID
	dst[4] = byte(h.MessageType)
	dst[5] = byte(h.ReturnCode)
	binary.BigEndian.PutUint16(dst[6:8], h.Length)
}

// unmarshalHeader decodes an 8-byte PICC message header from src.
func unmarshalHeader(src []byte) apicore.Header {
	return apicore.Header{
		ProviderID:  src[0],
		MethodID:    src[1],
		ConsumerID:  src[2],
		SessionID:   src[3],
		MessageType: apicore.MessageType(src[4]),
		ReturnCode:  apicore.ReturnCode(src[5]),
		Length:      binary.BigEndian.Uint16(src[6:8]),
	}
}
