//go:build !nobluetooth

package rendezvous

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"
	"github.com/paypal/gatt"

	"github.com/viam-labs/ble-managed/internal/l2cap"
)

// resolveCacheTTL is how long a successful FindDeviceAndPSM resolution is
// cached, so a forwarder loop that reconnects immediately after a
// transport fault — the phone's L2CAP listener restarted but it's still
// the same paired device — can skip a full BLE scan.
const resolveCacheTTL = 30 * time.Second

// resolveCacheSize bounds the LRU; one managed machine pairs with a small,
// fixed number of phones over its lifetime.
const resolveCacheSize = 8

// gattResolveDeadline bounds GATT service/characteristic discovery once a
// matching peripheral connects, per spec.md §4.F's 30-second upper bound.
const gattResolveDeadline = 30 * time.Second

type cachedResolution struct {
	device    l2cap.Device
	psm       uint16
	expiresAt time.Time
}

// serviceUUID, peerNameCharUUID, identityCharUUID, and psmCharUUID adapt
// the pinned github.com/satori/go.uuid values in uuids.go into gatt's own
// UUID type, which the paypal/gatt API requires for every service and
// characteristic identifier.
func serviceUUID() gatt.UUID      { return gatt.MustParseUUID(serviceUUIDValue.String()) }
func peerNameCharUUID() gatt.UUID { return gatt.MustParseUUID(peerNameCharUUIDValue.String()) }
func identityCharUUID() gatt.UUID { return gatt.MustParseUUID(identityCharUUIDValue.String()) }
func psmCharUUID() gatt.UUID      { return gatt.MustParseUUID(psmCharUUIDValue.String()) }

// GATTRendezvous implements Rendezvous over github.com/paypal/gatt,
// playing the peripheral role in AdvertiseAndAwaitPeerName and the central
// role in FindDeviceAndPSM, as described in spec.md §4.F's GLOSSARY.
type GATTRendezvous struct {
	log   *logging.Logger
	cache *lru.Cache
}

// NewGATTRendezvous constructs a GATTRendezvous. log receives protocol
// tracing; construct it with internal/blelog.New.
func NewGATTRendezvous(log *logging.Logger) (*GATTRendezvous, error) {
	cache, err := lru.New(resolveCacheSize)
	if err != nil {
		return nil, err
	}
	return &GATTRendezvous{log: log, cache: cache}, nil
}

// New is the build-selected constructor cmd/ble-forwarder uses: this file
// is only compiled without the nobluetooth tag, so here it's GATTRendezvous.
func New(log *logging.Logger) (Rendezvous, error) {
	return NewGATTRendezvous(log)
}

// AdvertiseAndAwaitPeerName advertises localIdentity as a read
// characteristic under advertisedAlias and blocks until a central device
// writes the peer-name characteristic.
func (r *GATTRendezvous) AdvertiseAndAwaitPeerName(ctx context.Context, localIdentity, advertisedAlias string) (string, error) {
	device, err := gatt.NewDevice()
	if err != nil {
		return "", fmt.Errorf("rendezvous: new peripheral device: %w", err)
	}

	peerNameCh := make(chan string, 1)
	svc := gatt.NewService(serviceUUID())

	identityChar := svc.AddCharacteristic(identityCharUUID())
	identityChar.HandleReadFunc(func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
		resp.Write([]byte(localIdentity))
	})

	peerNameChar := svc.AddCharacteristic(peerNameCharUUID())
	peerNameChar.HandleWriteFunc(func(req gatt.Request, data []byte) byte {
		select {
		case peerNameCh <- string(data):
		default:
		}
		return gatt.StatusSuccess
	})

	device.Handle(gatt.CentralConnected(func(c gatt.Central) {
		r.log.Debugf("rendezvous: central connected: %s", c.ID())
	}))
	device.Handle(gatt.CentralDisconnected(func(c gatt.Central) {
		r.log.Debugf("rendezvous: central disconnected: %s", c.ID())
	}))

	ready := make(chan error, 1)
	device.Init(func(d gatt.Device, state gatt.State) {
		if state != gatt.StatePoweredOn {
			return
		}
		if err := d.AddService(svc); err != nil {
			ready <- fmt.Errorf("rendezvous: add service: %w", err)
			return
		}
		if err := d.AdvertiseNameAndServices(advertisedAlias, []gatt.UUID{serviceUUID()}); err != nil {
			ready <- fmt.Errorf("rendezvous: advertise: %w", err)
			return
		}
		ready <- nil
	})

	select {
	case err := <-ready:
		if err != nil {
			device.Stop()
			return "", err
		}
	case <-ctx.Done():
		device.Stop()
		return "", ctx.Err()
	}

	defer device.StopAdvertising()
	defer device.Stop()

	select {
	case peerName := <-peerNameCh:
		return peerName, nil
	case <-ctx.Done():
		return "", ErrAdvertiseTimeout
	}
}

// FindDeviceAndPSM scans for a device advertising the service UUID,
// filters by RSSI and matches its peer-name characteristic against
// peerName, resolving GATT with a 30-second upper bound and one
// reconnect-on-drop retry.
func (r *GATTRendezvous) FindDeviceAndPSM(ctx context.Context, peerName string) (l2cap.Device, uint16, error) {
	if cached, ok := r.lookupCache(peerName); ok {
		r.log.Debugf("rendezvous: using cached resolution for %q", peerName)
		return cached.device, cached.psm, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		device, psm, err := r.scanAndResolveOnce(ctx, peerName)
		if err == nil {
			r.cache.Add(peerName, &cachedResolution{device: device, psm: psm, expiresAt: time.Now().Add(resolveCacheTTL)})
			return device, psm, nil
		}
		r.log.Warningf("rendezvous: resolve attempt %d failed: %v", attempt+1, err)
		select {
		case <-ctx.Done():
			return l2cap.Device{}, 0, ctx.Err()
		default:
		}
	}
	return l2cap.Device{}, 0, ErrScanTimeout
}

func (r *GATTRendezvous) lookupCache(peerName string) (*cachedResolution, bool) {
	v, ok := r.cache.Get(peerName)
	if !ok {
		return nil, false
	}
	c := v.(*cachedResolution)
	if time.Now().After(c.expiresAt) {
		r.cache.Remove(peerName)
		return nil, false
	}
	return c, true
}

func (r *GATTRendezvous) scanAndResolveOnce(ctx context.Context, peerName string) (l2cap.Device, uint16, error) {
	central, err := gatt.NewDevice()
	if err != nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: new central device: %w", err)
	}
	defer central.Stop()

	var once sync.Once
	resultCh := make(chan struct {
		device l2cap.Device
		psm    uint16
		err    error
	}, 1)

	deliver := func(device l2cap.Device, psm uint16, err error) {
		once.Do(func() {
			resultCh <- struct {
				device l2cap.Device
				psm    uint16
				err    error
			}{device, psm, err}
		})
	}

	central.Handle(gatt.PeripheralDiscovered(func(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
		if rssi < MinRSSI {
			return
		}
		if !containsUUID(a.Services, serviceUUID()) {
			return
		}
		central.StopScanning()
		central.Connect(p)
	}))

	central.Handle(gatt.PeripheralConnected(func(p gatt.Peripheral, err error) {
		if err != nil {
			deliver(l2cap.Device{}, 0, fmt.Errorf("rendezvous: connect: %w", err))
			return
		}
		device, psm, err := r.resolveFromPeripheral(p, peerName)
		deliver(device, psm, err)
	}))

	central.Handle(gatt.PeripheralDisconnected(func(p gatt.Peripheral, err error) {
		deliver(l2cap.Device{}, 0, fmt.Errorf("rendezvous: disconnected mid-resolve: %w", err))
	}))

	initErr := make(chan error, 1)
	central.Init(func(d gatt.Device, state gatt.State) {
		if state != gatt.StatePoweredOn {
			return
		}
		d.Scan([]gatt.UUID{serviceUUID()}, false)
		initErr <- nil
	})

	select {
	case err := <-initErr:
		if err != nil {
			return l2cap.Device{}, 0, err
		}
	case <-ctx.Done():
		return l2cap.Device{}, 0, ctx.Err()
	}

	deadline := time.NewTimer(gattResolveDeadline)
	defer deadline.Stop()

	select {
	case res := <-resultCh:
		return res.device, res.psm, res.err
	case <-deadline.C:
		return l2cap.Device{}, 0, ErrScanTimeout
	case <-ctx.Done():
		return l2cap.Device{}, 0, ctx.Err()
	}
}

func (r *GATTRendezvous) resolveFromPeripheral(p gatt.Peripheral, peerName string) (l2cap.Device, uint16, error) {
	services, err := p.DiscoverServices([]gatt.UUID{serviceUUID()})
	if err != nil || len(services) == 0 {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: discover services: %w", err)
	}

	chars, err := p.DiscoverCharacteristics([]gatt.UUID{peerNameCharUUID(), psmCharUUID()}, services[0])
	if err != nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: discover characteristics: %w", err)
	}

	var nameChar, psmChar *gatt.Characteristic
	for _, c := range chars {
		switch {
		case c.UUID().Equal(peerNameCharUUID()):
			nameChar = c
		case c.UUID().Equal(psmCharUUID()):
			psmChar = c
		}
	}
	if nameChar == nil || psmChar == nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: peer does not expose expected characteristics")
	}

	nameBytes, err := p.ReadCharacteristic(nameChar)
	if err != nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: read peer name: %w", err)
	}
	if strings.TrimSpace(string(nameBytes)) != peerName {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: peer name mismatch, got %q want %q", nameBytes, peerName)
	}

	psmBytes, err := p.ReadCharacteristic(psmChar)
	if err != nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: read psm: %w", err)
	}
	psm64, err := strconv.ParseUint(strings.TrimSpace(string(psmBytes)), 10, 16)
	if err != nil {
		return l2cap.Device{}, 0, fmt.Errorf("rendezvous: decode psm %q: %w", psmBytes, err)
	}

	device := deviceFromPeripheralID(p.ID())
	return device, uint16(psm64), nil
}

func containsUUID(uuids []gatt.UUID, target gatt.UUID) bool {
	for _, u := range uuids {
		if u.Equal(target) {
			return true
		}
	}
	return false
}

// deviceFromPeripheralID parses the gatt library's colon-separated MAC
// string form into the raw address l2cap.Dial needs.
func deviceFromPeripheralID(id string) l2cap.Device {
	var d l2cap.Device
	parts := strings.Split(id, ":")
	for i := 0; i < len(parts) && i < 6; i++ {
		b, err := strconv.ParseUint(parts[len(parts)-1-i], 16, 8)
		if err != nil {
			continue
		}
		d.Addr[i] = byte(b)
	}
	return d
}
