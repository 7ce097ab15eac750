//go:build linux

package l2cap

import (
	"context"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

// These mirror <bluetooth/bluetooth.h> and <bluetooth/l2cap.h>, which
// golang.org/x/sys/unix does not wrap (Bluetooth sockets are not a
// standard-library concept, the same gap the teacher's socket_linux.go
// works around for its own platform-specific socket family).
const (
	afBluetooth  = 31
	btProtoL2CAP = 0

	solBluetooth = 274
	btSecurity   = 4

	solL2CAP  = 6
	l2capOpts = 0x01

	bdaddrLEPublic = 0x01
	bdaddrLERandom = 0x02
)

// sockaddrL2 mirrors struct sockaddr_l2.
type sockaddrL2 struct {
	family      uint16
	psm         uint16
	bdaddr      [6]byte
	cid         uint16
	bdaddrType  uint8
	_           [1]byte // struct padding to a multiple of 2
}

// btSecurityOpt mirrors struct bt_security, set via SOL_BLUETOOTH/BT_SECURITY.
type btSecurityOpt struct {
	level   uint8
	keySize uint8
}

// l2capOptions mirrors struct l2cap_options, set via SOL_L2CAP/L2CAP_OPTIONS.
// imtu/omtu bound how large a single L2CAP frame either side may send;
// leaving them at the kernel default would silently cap received frames
// well below RecvMTU.
type l2capOptions struct {
	omtu    uint16
	imtu    uint16
	flush   uint16
	mode    uint8
	fcs     uint8
	maxTx   uint8
	txwinSz uint16
}

// fdStream is an opened L2CAP socket addressed directly by file descriptor,
// in the raw-syscall style the teacher reserves for socket families the
// standard library has no notion of.
type fdStream struct {
	fd int
}

func (s *fdStream) ReadHalf() ReadHalf   { return fdReadHalf{s.fd} }
func (s *fdStream) WriteHalf() WriteHalf { return fdWriteHalf{s.fd} }
func (s *fdStream) Close() error         { return unix.Close(s.fd) }

type fdReadHalf struct{ fd int }

func (r fdReadHalf) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

type fdWriteHalf struct{ fd int }

func (w fdWriteHalf) Write(p []byte) (int, error) {
	return unix.Write(w.fd, p)
}

// Dial opens an L2CAP CoC to device's dynamic PSM, configuring RecvMTU and
// SecurityHigh/SecurityKeySize before connecting, per spec.md §4.E/§6.
func Dial(ctx context.Context, device Device, psm uint16) (Stream, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_SEQPACKET, btProtoL2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap: socket: %w", err)
	}
	s := &fdStream{fd: fd}

	if err := bindAnyLocal(fd); err != nil {
		s.Close()
		return nil, fmt.Errorf("l2cap: bind: %w", err)
	}

	if err := setSecurity(fd, SecurityHigh, SecurityKeySize); err != nil {
		s.Close()
		return nil, fmt.Errorf("l2cap: set security: %w", err)
	}

	if err := setRecvMTU(fd, RecvMTU); err != nil {
		s.Close()
		return nil, fmt.Errorf("l2cap: set recv mtu: %w", err)
	}

	if err := connectDevice(ctx, fd, device, psm); err != nil {
		s.Close()
		return nil, fmt.Errorf("l2cap: connect: %w", err)
	}

	return s, nil
}

func bindAnyLocal(fd int) error {
	addr := sockaddrL2{
		family:     afBluetooth,
		psm:        0,
		cid:        0,
		bdaddrType: bdaddrLEPublic,
	}
	return bindRaw(fd, &addr)
}

func connectDevice(ctx context.Context, fd int, device Device, psm uint16) error {
	addr := sockaddrL2{
		family:     afBluetooth,
		psm:        psm,
		bdaddr:     device.Addr,
		cid:        0,
		bdaddrType: device.AddrType,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- connectRaw(fd, &addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		unix.Close(fd)
		return ctx.Err()
	}
}

func bindRaw(fd int, addr *sockaddrL2) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd),
		uintptr(unsafe.Pointer(addr)), unsafe.Sizeof(*addr))
	if errno != 0 {
		return errno
	}
	return nil
}

func connectRaw(fd int, addr *sockaddrL2) error {
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(addr)), unsafe.Sizeof(*addr))
	if errno != 0 {
		return errno
	}
	return nil
}

func setSecurity(fd int, level SecurityLevel, keySize int) error {
	opt := btSecurityOpt{level: uint8(level), keySize: uint8(keySize)}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd),
		uintptr(solBluetooth), uintptr(btSecurity),
		uintptr(unsafe.Pointer(&opt)), unsafe.Sizeof(opt), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// setRecvMTU configures both directions' MTU to mtu via SOL_L2CAP/L2CAP_OPTIONS,
// the raw-socket equivalent of the original Rust forwarder's set_recv_mtu call.
func setRecvMTU(fd int, mtu int) error {
	opt := l2capOptions{omtu: uint16(mtu), imtu: uint16(mtu)}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd),
		uintptr(solL2CAP), uintptr(l2capOpts),
		uintptr(unsafe.Pointer(&opt)), unsafe.Sizeof(opt), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// leAddrType converts the GAP random/public flag carried by the rendezvous
// scan result into the bdaddr_type byte this socket family expects.
func leAddrType(random bool) uint8 {
	if random {
		return bdaddrLERandom
	}
	return bdaddrLEPublic
}
