//go:build nobluetooth

package rendezvous

import (
	"context"
	"errors"

	"github.com/op/go-logging"

	"github.com/viam-labs/ble-managed/internal/l2cap"
)

// ErrNoBluetooth is returned by every StubRendezvous method. Build with
// -tags nobluetooth on hosts without a BLE adapter, mirroring the teacher's
// bluetooth_linux.go no-op driver for the same situation.
var ErrNoBluetooth = errors.New("rendezvous: built with -tags nobluetooth, no BLE adapter available")

// StubRendezvous satisfies Rendezvous without touching any hardware. It is
// selected by the nobluetooth build tag rather than at runtime, matching
// how the teacher switches its Bluetooth driver implementation.
type StubRendezvous struct{}

func NewStubRendezvous() *StubRendezvous { return &StubRendezvous{} }

// New is the build-selected constructor cmd/ble-forwarder uses: this file
// is only compiled with the nobluetooth tag, so here it's StubRendezvous.
func New(log *logging.Logger) (Rendezvous, error) {
	return NewStubRendezvous(), nil
}

func (StubRendezvous) AdvertiseAndAwaitPeerName(ctx context.Context, localIdentity, advertisedAlias string) (string, error) {
	return "", ErrNoBluetooth
}

func (StubRendezvous) FindDeviceAndPSM(ctx context.Context, peerName string) (l2cap.Device, uint16, error) {
	return l2cap.Device{}, 0, ErrNoBluetooth
}
