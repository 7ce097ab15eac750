//go:build !linux

package l2cap

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by Dial on any OS other than Linux,
// where no AF_BLUETOOTH L2CAP socket family exists.
var ErrUnsupportedPlatform = errors.New("l2cap: BLE L2CAP sockets are only supported on linux")

// Dial always fails on non-Linux platforms. Tests on such platforms use
// mux.CreateAndStart directly against an in-memory transport instead.
func Dial(ctx context.Context, device Device, psm uint16) (Stream, error) {
	return nil, ErrUnsupportedPlatform
}
