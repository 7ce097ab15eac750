// Package wire implements the framing protocol spoken over the L2CAP
// connection-oriented channel: two packet kinds, a fixed little-endian
// header, and nothing else. It has no notion of ports being "live" or
// connections being open — that policy lives in the mux package.
package wire

import "fmt"

// MsgType identifies the kind of Control packet.
type MsgType uint8

const (
	MsgKeepalive        MsgType = 0
	MsgConnectionStatus MsgType = 1
)

// Status is the payload of a connection-status Control packet.
type Status uint8

const (
	StatusClosed Status = 0
	StatusOpen   Status = 1
)

// ControlPort is the reserved port value that marks a packet as Control
// rather than Data on the wire.
const ControlPort uint16 = 0

// MinPort and MaxPort bound the valid range for a virtual-connection port.
const (
	MinPort uint16 = 1
	MaxPort uint16 = 65535
)

// Packet is the tagged union decoded off the wire. Exactly one of Data or
// Control is meaningful, selected by Kind.
type Packet struct {
	Kind    Kind
	Port    uint16 // Data only
	Payload []byte // Data only
	MsgType MsgType
	ForPort uint16 // Control, MsgConnectionStatus only
	Status  Status // Control, MsgConnectionStatus only
}

// Kind distinguishes Packet.Data from Packet.Control.
type Kind uint8

const (
	KindData Kind = iota
	KindControl
)

// DataPacket builds a Data packet. port must be in [MinPort, MaxPort].
func DataPacket(port uint16, payload []byte) Packet {
	return Packet{Kind: KindData, Port: port, Payload: payload}
}

// KeepalivePacket builds the Control{keepalive} packet.
func KeepalivePacket() Packet {
	return Packet{Kind: KindControl, MsgType: MsgKeepalive}
}

// ConnectionStatusPacket builds a Control{connection-status} packet.
func ConnectionStatusPacket(forPort uint16, status Status) Packet {
	return Packet{Kind: KindControl, MsgType: MsgConnectionStatus, ForPort: forPort, Status: status}
}

func (p Packet) String() string {
	switch p.Kind {
	case KindData:
		return fmt.Sprintf("Data{port=%d len=%d}", p.Port, len(p.Payload))
	case KindControl:
		switch p.MsgType {
		case MsgKeepalive:
			return "Control{keepalive}"
		case MsgConnectionStatus:
			return fmt.Sprintf("Control{status port=%d status=%d}", p.ForPort, p.Status)
		default:
			return fmt.Sprintf("Control{unknown msg_type=%d}", p.MsgType)
		}
	default:
		return "Packet{invalid}"
	}
}
