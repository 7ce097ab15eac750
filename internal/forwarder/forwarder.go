// Package forwarder drives the outer loop: bind the local TCP listener,
// rendezvous with the paired phone, open the L2CAP stream, hand it to the
// multiplexer, and keep accepting local connections until the link drops
// or the process is asked to stop. Run wraps a single pass of that loop in
// a retry driver with backoff, the way the teacher's main daemon restarts
// a dropped local-socket connection, generalized here to cover a
// rendezvous that can legitimately take much longer than a local redial.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/op/go-logging"

	"github.com/viam-labs/ble-managed/internal/blelog"
	"github.com/viam-labs/ble-managed/internal/identity"
	"github.com/viam-labs/ble-managed/internal/l2cap"
	"github.com/viam-labs/ble-managed/internal/mux"
	"github.com/viam-labs/ble-managed/internal/rendezvous"
)

// ListenAddr is the local TCP address this forwarder binds, per spec.md §6.
// It is a var, not a const, so tests can bind an ephemeral port instead.
var ListenAddr = "127.0.0.1:1080"

// postExitSettle is how long the loop waits after its select exits, to let
// a peer-driven disconnect land before it closes the stream itself. The
// close is unconditional: the connection state is not checked first. A
// var, not a const, so tests don't pay the real 2s/5s delays.
var postExitSettle = 2 * time.Second

// disconnectTimeout bounds how long the loop waits for its own close of the
// stream to complete once postExitSettle has passed.
var disconnectTimeout = 5 * time.Second

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// dial is l2cap.Dial by default; tests override it to avoid touching a
// real BLE adapter, the same seam bindListener below provides for the
// local TCP listener.
var dial = l2cap.Dial

// bindListener is net.Listen("tcp", ...) by default; tests override it.
var bindListener = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Run is the outer retry driver: it calls identity.Load once, then repeats
// rendezvous + runOnce until runOnce reports outcomeExit, runOnce fails
// with ErrLocalBindFailed (exit code 1), or ctx is cancelled. It returns
// the process exit code.
func Run(ctx context.Context, log *logging.Logger, rv rendezvous.Rendezvous) int {
	id, err := identity.Load(ctx, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Debugf("%v", fmt.Errorf("%w: %v", ErrConfigMissing, err))
			return 0
		}
		log.Errorf("forwarder: %v", err)
		return 1
	}

	backoff := backoffInitial
	for {
		select {
		case <-ctx.Done():
			return 0
		default:
		}

		oc, err := runOnce(ctx, log, rv, id)
		if err != nil {
			log.Errorf("%s", blelog.Red(fmt.Sprintf("forwarder: %v", err)))
			if errors.Is(err, ErrLocalBindFailed) {
				return 1
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffInitial

		if oc == outcomeExit {
			return 0
		}
		log.Noticef("%s", blelog.Yellow("forwarder: transport lost, re-entering rendezvous"))
	}
}

// runOnce binds the listener, rendezvouses, opens the L2CAP stream, and
// runs the select loop until disconnect or a stop signal.
func runOnce(ctx context.Context, log *logging.Logger, rv rendezvous.Rendezvous, id identity.Identity) (outcome, error) {
	listener, err := bindListener(ListenAddr)
	if err != nil {
		return outcomeExit, fmt.Errorf("%w: %v", ErrLocalBindFailed, err)
	}
	defer listener.Close()

	peerName, err := rv.AdvertiseAndAwaitPeerName(ctx, id.LocalID, id.AdvertisedAlias)
	if err != nil {
		return outcomeRestart, fmt.Errorf("%w: %v", ErrRendezvousFailed, err)
	}

	device, psm, err := rv.FindDeviceAndPSM(ctx, peerName)
	if err != nil {
		return outcomeRestart, fmt.Errorf("%w: %v", ErrRendezvousFailed, err)
	}

	stream, err := dial(ctx, device, psm)
	if err != nil {
		return outcomeRestart, fmt.Errorf("%w: %v", ErrTransportFault, err)
	}

	log.Noticef("%s", blelog.Green(fmt.Sprintf("forwarder: connected to %s", peerName)))
	transport := &l2capReadWriter{stream: stream}
	m := mux.CreateAndStart(transport, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	connCh := acceptLoop(listener, log)

	oc := selectLoop(m, connCh, sigCh, log)

	if oc == outcomeRestart {
		logTransportLoss(log, transport.lastReadErr())
	}

	time.Sleep(postExitSettle)
	disconnectIfNeeded(stream, disconnectTimeout)

	return oc, nil
}

// logTransportLoss classifies why the select loop restarted: a graceful
// EOF on the L2CAP stream is routine (the phone's listener cycled), while
// any other read failure is a transport fault worth a louder log line.
func logTransportLoss(log *logging.Logger, readErr error) {
	if readErr == nil {
		return
	}
	if errors.Is(readErr, io.EOF) {
		log.Debugf("%v", fmt.Errorf("%w: %v", ErrTransportClosed, readErr))
		return
	}
	log.Warningf("%s", blelog.Yellow(fmt.Errorf("%w: %v", ErrTransportFault, readErr).Error()))
}

func selectLoop(m *mux.Mux, connCh <-chan net.Conn, sigCh <-chan os.Signal, log *logging.Logger) outcome {
	for {
		select {
		case conn, ok := <-connCh:
			if !ok {
				return outcomeRestart
			}
			if _, err := m.AddTCPStream(conn); err != nil {
				log.Warningf("forwarder: dropping accepted connection: %v", err)
				conn.Close()
			}
		case <-m.Stopped():
			m.Stop()
			m.Wait()
			return outcomeRestart
		case sig := <-sigCh:
			log.Noticef("forwarder: received %s, shutting down", sig)
			m.Stop()
			m.Wait()
			return outcomeExit
		}
	}
}

func acceptLoop(listener net.Listener, log *logging.Logger) <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Debugf("forwarder: accept loop exiting: %v", err)
				return
			}
			out <- conn
		}
	}()
	return out
}

func disconnectIfNeeded(stream l2cap.Stream, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// l2capReadWriter adapts an l2cap.Stream's split halves to the single
// io.Reader+io.Writer the mux expects of its transport, since on this side
// both halves happen to share one underlying fd and Close. It also
// remembers the last Read error so runOnce can tell a graceful close from
// a genuine transport fault once the mux reports the link as stopped.
type l2capReadWriter struct {
	stream l2cap.Stream

	mu  sync.Mutex
	err error
}

func (l *l2capReadWriter) Read(p []byte) (int, error) {
	n, err := l.stream.ReadHalf().Read(p)
	if err != nil {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}
	return n, err
}

func (l *l2capReadWriter) Write(p []byte) (int, error) { return l.stream.WriteHalf().Write(p) }
func (l *l2capReadWriter) Close() error                { return l.stream.Close() }

func (l *l2capReadWriter) lastReadErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
