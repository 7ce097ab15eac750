package wire

import "errors"

var (
	// ErrPayloadTooLarge is returned by Serialize when a Data payload exceeds
	// the wire format's 32-bit length field.
	ErrPayloadTooLarge = errors.New("wire: payload too large")

	// ErrUnknownMsgType is returned by Deserialize when a Control packet's
	// msg_type is neither keepalive (0) nor connection-status (1).
	ErrUnknownMsgType = errors.New("wire: unknown control msg_type")
)

const maxPayloadLen = 1<<32 - 1
