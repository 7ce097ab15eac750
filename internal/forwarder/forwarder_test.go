package forwarder

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/viam-labs/ble-managed/internal/identity"
	"github.com/viam-labs/ble-managed/internal/l2cap"
)

func testLogger() *logging.Logger {
	log := logging.MustGetLogger("forwarder_test")
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(logging.CRITICAL, "")
	logging.SetBackend(leveled)
	return log
}

type fakeStream struct{ conn net.Conn }

func (f fakeStream) ReadHalf() l2cap.ReadHalf   { return f.conn }
func (f fakeStream) WriteHalf() l2cap.WriteHalf { return f.conn }
func (f fakeStream) Close() error               { return f.conn.Close() }

type fakeRendezvous struct {
	peerName  string
	device    l2cap.Device
	psm       uint16
	advertErr error
	findErr   error
}

func (f fakeRendezvous) AdvertiseAndAwaitPeerName(ctx context.Context, localIdentity, advertisedAlias string) (string, error) {
	if f.advertErr != nil {
		return "", f.advertErr
	}
	return f.peerName, nil
}

func (f fakeRendezvous) FindDeviceAndPSM(ctx context.Context, peerName string) (l2cap.Device, uint16, error) {
	if f.findErr != nil {
		return l2cap.Device{}, 0, f.findErr
	}
	return f.device, f.psm, nil
}

func withFakeTransport(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	origDial := dial
	dial = func(ctx context.Context, device l2cap.Device, psm uint16) (l2cap.Stream, error) {
		return fakeStream{conn: a}, nil
	}
	t.Cleanup(func() { dial = origDial })
	return b
}

func withEphemeralListener(t *testing.T) func() string {
	t.Helper()
	addrCh := make(chan string, 1)
	origBind := bindListener
	bindListener = func(_ string) (net.Listener, error) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		addrCh <- l.Addr().String()
		return l, nil
	}
	t.Cleanup(func() { bindListener = origBind })
	return func() string {
		select {
		case addr := <-addrCh:
			return addr
		case <-time.After(time.Second):
			t.Fatal("listener never bound")
			return ""
		}
	}
}

func TestRunOnceRestartsOnTransportLoss(t *testing.T) {
	peer := withFakeTransport(t)
	withEphemeralListener(t)

	origSettle, origDisconnect := postExitSettle, disconnectTimeout
	postExitSettle, disconnectTimeout = 5*time.Millisecond, 5*time.Millisecond
	defer func() { postExitSettle, disconnectTimeout = origSettle, origDisconnect }()

	rv := fakeRendezvous{peerName: "phone", psm: 42}
	id := identity.Identity{LocalID: "robot-1", AdvertisedAlias: "Robot"}

	done := make(chan struct {
		oc  outcome
		err error
	}, 1)
	go func() {
		oc, err := runOnce(context.Background(), testLogger(), rv, id)
		done <- struct {
			oc  outcome
			err error
		}{oc, err}
	}()

	time.Sleep(50 * time.Millisecond)
	peer.Close()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.oc != outcomeRestart {
			t.Fatalf("got outcome %v, want outcomeRestart", res.oc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runOnce did not return after transport loss")
	}
}

func TestRunOnceRendezvousFailure(t *testing.T) {
	withEphemeralListener(t)
	rv := fakeRendezvous{advertErr: errors.New("no peer found")}
	id := identity.Identity{LocalID: "robot-1", AdvertisedAlias: "Robot"}

	oc, err := runOnce(context.Background(), testLogger(), rv, id)
	if !errors.Is(err, ErrRendezvousFailed) {
		t.Fatalf("got %v, want ErrRendezvousFailed", err)
	}
	if oc != outcomeRestart {
		t.Fatalf("got outcome %v, want outcomeRestart", oc)
	}
}

func TestRunOnceBindFailure(t *testing.T) {
	origBind := bindListener
	bindListener = func(_ string) (net.Listener, error) {
		return nil, errors.New("address in use")
	}
	defer func() { bindListener = origBind }()

	rv := fakeRendezvous{peerName: "phone", psm: 1}
	id := identity.Identity{LocalID: "robot-1", AdvertisedAlias: "Robot"}

	oc, err := runOnce(context.Background(), testLogger(), rv, id)
	if !errors.Is(err, ErrLocalBindFailed) {
		t.Fatalf("got %v, want ErrLocalBindFailed", err)
	}
	if oc != outcomeExit {
		t.Fatalf("got outcome %v, want outcomeExit", oc)
	}
}

func TestRunExitsZeroOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rv := fakeRendezvous{peerName: "phone", psm: 1}
	code := Run(ctx, testLogger(), rv)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestAcceptLoopForwardsConnections(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	connCh := acceptLoop(listener, testLogger())

	go func() {
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()

	select {
	case conn, ok := <-connCh:
		if !ok {
			t.Fatal("connCh closed unexpectedly")
		}
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("acceptLoop did not deliver a connection")
	}

	listener.Close()
	select {
	case _, ok := <-connCh:
		if ok {
			t.Fatal("expected connCh to close after listener closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connCh did not close after listener closed")
	}
}
