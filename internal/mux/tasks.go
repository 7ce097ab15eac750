package mux

import (
	"errors"
	"io"
	"time"

	"github.com/viam-labs/ble-managed/internal/wire"
)

// transportReaderTask is T1. It never signals stop itself: a read failure
// here just stops feeding the reassembly buffer, and the deserializer (T2)
// is the one that turns "no more chunks" into a transport fault.
func (m *Mux) transportReaderTask() {
	defer m.wg.Done()
	defer close(m.l2capToTCP)

	buf := make([]byte, RecvMTU)
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		n, err := m.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case m.l2capToTCP <- chunk:
			case <-m.ctx.Done():
				return
			}
		}
		if err != nil {
			m.log.Debugf("transport reader: %v", err)
			return
		}
	}
}

// deserializerTask is T2, the sole writer to every TCP write half in the
// table. On any decode error it signals stop-due-to-disconnect and exits.
func (m *Mux) deserializerTask() {
	defer m.wg.Done()

	for {
		p, err := wire.Deserialize(m.reassembled)
		if err != nil {
			m.log.Infof("deserializer: transport fault: %v", err)
			m.signalStopDueToDisconnect()
			return
		}

		switch p.Kind {
		case wire.KindData:
			m.handleData(p)
		case wire.KindControl:
			m.handleControl(p)
		}
	}
}

func (m *Mux) handleData(p wire.Packet) {
	if len(p.Payload) == 0 {
		m.log.Debugf("%s: dropping empty data packet", m.connID(p.Port))
		return
	}
	wh, ok := m.table.Get(p.Port)
	if !ok {
		if m.table.RecentlyClosed(p.Port) {
			m.log.Debugf("%s: data for recently-closed port, dropping", m.connID(p.Port))
		} else {
			m.log.Warningf("%s: data for unknown port, dropping", m.connID(p.Port))
		}
		return
	}
	if _, err := writeAll(wh, p.Payload); err != nil {
		m.log.Debugf("%s: tcp write error, dropping packet: %v", m.connID(p.Port), err)
	}
}

func (m *Mux) handleControl(p wire.Packet) {
	switch p.MsgType {
	case wire.MsgKeepalive:
		return
	case wire.MsgConnectionStatus:
		switch p.Status {
		case wire.StatusClosed:
			if wasLive := m.table.Remove(p.ForPort); wasLive {
				m.log.Debugf("%s: peer closed, removed", m.connID(p.ForPort))
			} else {
				m.log.Debugf("%s: peer closed already-gone port", m.connID(p.ForPort))
			}
		case wire.StatusOpen:
			m.log.Warningf("%s: peer attempted passive open, ignoring", m.connID(p.ForPort))
		default:
			m.log.Warningf("connection-status with unknown status=%d, ignoring", p.Status)
		}
	default:
		m.log.Warningf("control packet with unknown msg_type=%d, ignoring", p.MsgType)
	}
}

// perPortReaderTask is T3, spawned once per virtual connection by
// AddTCPStream. It never removes its own table entry: only the
// deserializer removes entries, on a peer-sent closed control.
func (m *Mux) perPortReaderTask(port uint16, conn TCPConn) {
	defer m.wg.Done()

	buf := make([]byte, TCPReadChunk)
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			select {
			case m.tcpToL2CAP <- wire.DataPacket(port, payload):
			case <-m.ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case m.tcpToL2CAP <- wire.ConnectionStatusPacket(port, wire.StatusClosed):
			case <-m.ctx.Done():
			}
			if err != io.EOF {
				m.log.Debugf("%s: local read error: %v", m.connID(port), err)
			}
			return
		}
	}
}

// serializerTask is T4, the sole writer to the L2CAP write half.
func (m *Mux) serializerTask() {
	defer m.wg.Done()

	for {
		select {
		case p, ok := <-m.tcpToL2CAP:
			if !ok {
				return
			}
			buf, err := wire.Serialize(p)
			if err != nil {
				m.log.Warningf("serializer: drop unserializable packet: %v", err)
				continue
			}
			if _, err := writeAll(m.transport, buf); err != nil {
				m.log.Debugf("serializer: write error, dropping packet: %v", err)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// keepaliveTask is T5.
func (m *Mux) keepaliveTask() {
	defer m.wg.Done()

	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case m.tcpToL2CAP <- wire.KeepalivePacket():
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// writeAll is write_all: a single net.Conn.Write call is not guaranteed to
// consume the whole buffer, and one teacher revision's single-call write on
// the TCP egress path is exactly the bug spec §9 calls out to avoid.
func writeAll(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("mux: write made no progress")
		}
	}
	return total, nil
}
