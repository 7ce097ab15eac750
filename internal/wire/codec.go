package wire

import "encoding/binary"

// ReadExacter is satisfied by the reassembly buffer: it turns the
// transport's arbitrarily-chunked reads into exact-length reads. Deserialize
// never reads more or fewer bytes than it asks for.
type ReadExacter interface {
	ReadExact(n int) ([]byte, error)
}

// Serialize encodes p per the wire format in spec §4.A. It never fails for
// a well-formed Data packet except ErrPayloadTooLarge, and never fails for
// a Control packet.
func Serialize(p Packet) ([]byte, error) {
	switch p.Kind {
	case KindData:
		if uint64(len(p.Payload)) > maxPayloadLen {
			return nil, ErrPayloadTooLarge
		}
		buf := make([]byte, 2+4+len(p.Payload))
		binary.LittleEndian.PutUint16(buf[0:2], p.Port)
		binary.LittleEndian.PutUint32(buf[2:6], uint32(len(p.Payload)))
		copy(buf[6:], p.Payload)
		return buf, nil
	case KindControl:
		switch p.MsgType {
		case MsgKeepalive:
			return []byte{0x00, 0x00, 0x00}, nil
		case MsgConnectionStatus:
			buf := make([]byte, 6)
			binary.LittleEndian.PutUint16(buf[0:2], ControlPort)
			buf[2] = byte(MsgConnectionStatus)
			binary.LittleEndian.PutUint16(buf[3:5], p.ForPort)
			buf[5] = byte(p.Status)
			return buf, nil
		default:
			// Not reachable through the exported constructors, but keep the
			// encoder total rather than panicking on a hand-built Packet.
			buf := make([]byte, 3)
			binary.LittleEndian.PutUint16(buf[0:2], ControlPort)
			buf[2] = byte(p.MsgType)
			return buf, nil
		}
	default:
		return nil, ErrUnknownMsgType
	}
}

// Deserialize reads one packet from r. Any error from r (including a
// reassembly timeout) propagates unchanged; callers treat it as a
// TransportFault.
func Deserialize(r ReadExacter) (Packet, error) {
	hdr, err := r.ReadExact(2)
	if err != nil {
		return Packet{}, err
	}
	port := binary.LittleEndian.Uint16(hdr)

	if port == ControlPort {
		mtb, err := r.ReadExact(1)
		if err != nil {
			return Packet{}, err
		}
		msgType := MsgType(mtb[0])
		switch msgType {
		case MsgKeepalive:
			return KeepalivePacket(), nil
		case MsgConnectionStatus:
			rest, err := r.ReadExact(3)
			if err != nil {
				return Packet{}, err
			}
			forPort := binary.LittleEndian.Uint16(rest[0:2])
			status := Status(rest[2])
			return ConnectionStatusPacket(forPort, status), nil
		default:
			return Packet{}, ErrUnknownMsgType
		}
	}

	lb, err := r.ReadExact(4)
	if err != nil {
		return Packet{}, err
	}
	length := binary.LittleEndian.Uint32(lb)

	payload := []byte{}
	if length > 0 {
		payload, err = r.ReadExact(int(length))
		if err != nil {
			return Packet{}, err
		}
	}
	return DataPacket(port, payload), nil
}
