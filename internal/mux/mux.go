// Package mux is the core of the forwarder: it multiplexes many local TCP
// half-streams over one L2CAP byte stream, framing with internal/wire,
// reassembling with internal/reassembly, and tracking live virtual
// connections with internal/porttable.
//
// Four cooperative goroutines own the multiplexer's state (see tasks.go):
// a transport reader, a deserializer/demultiplexer, a serializer, and a
// keepalive ticker. Each per-TCP-connection accepted via AddTCPStream gets
// a fifth, per-port reader goroutine. No goroutine but the serializer ever
// writes to the L2CAP stream; no goroutine but the transport reader ever
// reads from it; no goroutine but the deserializer ever writes to a TCP
// write half. This gives every shared byte stream exactly one writer and
// one reader without additional locking.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keybase/saltpack/encoding/basex"
	"github.com/op/go-logging"

	"github.com/viam-labs/ble-managed/internal/porttable"
	"github.com/viam-labs/ble-managed/internal/reassembly"
	"github.com/viam-labs/ble-managed/internal/wire"
)

// RecvMTU bounds a single transport read (T1). It matches the L2CAP
// recv_mtu negotiated at connect time (spec §6).
const RecvMTU = 65535

// TCPReadChunk bounds a single read from a local TCP connection (T3), and
// so the payload of every Data packet this side sends. It is fixed at 1024
// bytes; it is not derived from the negotiated L2CAP MTU.
const TCPReadChunk = 1024

// KeepaliveInterval is how often T5 enqueues a keepalive Control packet.
const KeepaliveInterval = 1 * time.Second

var (
	// ErrStopped is returned by AddTCPStream after Stop has been called.
	ErrStopped = errors.New("mux: stopped")
)

// TransportReadWriter is the read/write halves of the opened L2CAP stream.
// Splitting is the caller's (internal/l2cap's) job; the mux only needs one
// direction at a time per task.
type TransportReadWriter interface {
	io.Reader
	io.Writer
}

// TCPConn is the subset of *net.TCPConn the mux needs from an accepted
// local connection: an independent read and write direction, each
// closable without tearing down the other immediately (CloseWrite is not
// required — a full Close from either side is sufficient for this
// protocol, which has no half-close negotiation, per spec §4.D).
type TCPConn interface {
	io.ReadWriteCloser
}

// generation counter, incremented by every CreateAndStart call, lets log
// lines tell which L2CAP session a port belonged to across a reconnect.
var generation int64

// Mux owns one L2CAP stream and every virtual connection multiplexed over
// it. Create with CreateAndStart; it is safe to call AddTCPStream from
// multiple goroutines.
type Mux struct {
	log *logging.Logger
	gen int64

	transport TransportReadWriter
	table     *porttable.Table

	tcpToL2CAP  chan wire.Packet
	l2capToTCP  chan []byte
	reassembled *reassembly.Buffer

	ctx       context.Context
	cancel    context.CancelFunc
	stoppedCh chan struct{} // closed by the deserializer on transport fault
	wg        sync.WaitGroup

	stopOnce sync.Once
	stopped  int32
}

// CreateAndStart takes ownership of transport, spawns the four background
// tasks, and returns immediately. It does not fail: any fault in the
// transport surfaces later through WaitForStop.
func CreateAndStart(transport TransportReadWriter, log *logging.Logger) *Mux {
	ctx, cancel := context.WithCancel(context.Background())
	gen := atomic.AddInt64(&generation, 1)

	chunks := make(chan []byte, 64)
	m := &Mux{
		log:         log,
		gen:         gen,
		transport:   transport,
		table:       porttable.New(),
		tcpToL2CAP:  make(chan wire.Packet, 256),
		l2capToTCP:  chunks,
		reassembled: reassembly.New(chunks),
		ctx:         ctx,
		cancel:      cancel,
		stoppedCh:   make(chan struct{}),
	}

	m.wg.Add(4)
	go m.transportReaderTask()
	go m.deserializerTask()
	go m.serializerTask()
	go m.keepaliveTask()

	return m
}

// AddTCPStream allocates a port, enqueues an open control, and spawns a
// per-port reader goroutine for conn. It fails ErrStopped if the mux has
// already stopped, porttable.ErrTooManyOpenConnections if port allocation
// is exhausted, and reassembly.ErrTransportClosed (wrapped) if the open
// control cannot be enqueued because the mux is shutting down concurrently.
func (m *Mux) AddTCPStream(conn TCPConn) (port uint16, err error) {
	if atomic.LoadInt32(&m.stopped) != 0 {
		return 0, ErrStopped
	}

	port, err = m.table.Allocate(conn)
	if err != nil {
		return 0, err
	}

	open := wire.ConnectionStatusPacket(port, wire.StatusOpen)
	select {
	case m.tcpToL2CAP <- open:
	case <-m.ctx.Done():
		m.table.Remove(port)
		return 0, fmt.Errorf("mux: enqueue open control: %w", reassembly.ErrTransportClosed)
	}

	m.wg.Add(1)
	go m.perPortReaderTask(port, conn)

	m.log.Debugf("%s: opened, port=%d", m.connID(port), port)
	return port, nil
}

// WaitForStop blocks until the deserializer observes a transport fault,
// then stops the mux. Callers typically run this in the forwarder loop's
// select alongside new-connection accepts and OS signals.
func (m *Mux) WaitForStop() {
	<-m.stoppedCh
	m.Stop()
}

// Stopped returns a channel that closes once the deserializer observes a
// transport fault, for callers that want to multiplex it into their own
// select rather than block in WaitForStop.
func (m *Mux) Stopped() <-chan struct{} {
	return m.stoppedCh
}

// Stop is idempotent: it cancels every task's context, closes every live
// virtual connection, and releases the transport halves by way of the
// tasks observing ctx.Done() and returning.
func (m *Mux) Stop() {
	m.stopOnce.Do(func() {
		atomic.StoreInt32(&m.stopped, 1)
		m.cancel()
		m.table.Clear()
		// The transport reader's Read is a blocking call that ctx
		// cancellation alone cannot interrupt; closing the transport (when
		// it supports it) unblocks it immediately instead of leaving T1
		// parked until the forwarder loop tears down the connection on its
		// own schedule.
		if closer, ok := m.transport.(io.Closer); ok {
			_ = closer.Close()
		}
	})
}

// Wait blocks until every task goroutine has exited. Exposed for tests and
// for a clean process shutdown.
func (m *Mux) Wait() {
	m.wg.Wait()
}

// signalStopDueToDisconnect is called exactly once, by the deserializer
// task immediately before it returns, so closing stoppedCh needs no extra
// guard beyond that single-caller contract.
func (m *Mux) signalStopDueToDisconnect() {
	close(m.stoppedCh)
}

// connID returns a short, human-readable correlation id for log lines
// about a given port, derived from (generation, port) and encoded in
// base62 the way the teacher correlates a single SSH signature request's
// log lines with a short notifyPrefix.
func (m *Mux) connID(port uint16) string {
	n := uint64(m.gen)<<16 | uint64(port)
	return basex.Base62StdEncoding.EncodeToString(uint64ToBytes(n))
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}
