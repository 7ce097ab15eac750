// Package rendezvous is the pairing/rendezvous collaborator: it resolves a
// paired mobile device's address and the dynamic PSM its L2CAP listener is
// bound to. The forwarder treats this as an opaque, pluggable dependency —
// exactly the "external" collaborator spec.md describes — with one concrete
// BLE-backed implementation and one build-tag-gated stub for hosts without
// a Bluetooth adapter, the same shape the teacher uses for its
// BluetoothDriverI / BluetoothDriver / bluetooth_linux.go stub split.
package rendezvous

import (
	"context"
	"errors"

	"github.com/viam-labs/ble-managed/internal/l2cap"
)

// ErrScanTimeout is returned by FindDeviceAndPSM when both of its resolve
// attempts fail, and by a single attempt whose GATT resolution does not
// finish within its deadline. A cancelled ctx yields ctx.Err() instead.
var ErrScanTimeout = errors.New("rendezvous: scan timed out before finding peer")

// ErrAdvertiseTimeout is returned by AdvertiseAndAwaitPeerName when no
// central writes the peer-name characteristic before ctx is cancelled.
var ErrAdvertiseTimeout = errors.New("rendezvous: advertise timed out awaiting peer name")

// ErrRSSITooLow names an otherwise-matching advertisement whose RSSI is
// weaker than MinRSSI. The GATT scan skips such advertisements without
// returning this error.
var ErrRSSITooLow = errors.New("rendezvous: advertisement RSSI below floor")

// MinRSSI is the RSSI floor from spec.md §4.F.
const MinRSSI = -200

// Rendezvous plays both BLE roles needed to go from "nothing" to "an
// opened L2CAP stream's (device, psm)": advertise this machine's identity
// and wait for the paired phone to tell us its name (peripheral role), then
// scan for that phone and read back the PSM its listener is bound to
// (central role).
type Rendezvous interface {
	// AdvertiseAndAwaitPeerName advertises localIdentity under
	// advertisedAlias and blocks until a central writes the peer-name
	// characteristic, returning that name.
	AdvertiseAndAwaitPeerName(ctx context.Context, localIdentity, advertisedAlias string) (peerName string, err error)

	// FindDeviceAndPSM scans for a device advertising the service UUID,
	// matches its peer-name characteristic against peerName, and reads its
	// PSM characteristic.
	FindDeviceAndPSM(ctx context.Context, peerName string) (device l2cap.Device, psm uint16, err error)
}
