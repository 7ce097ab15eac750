//go:build !nobluetooth

package rendezvous

import (
	"testing"

	"github.com/paypal/gatt"
)

func TestUUIDHelpersProduceDistinctValues(t *testing.T) {
	uuids := []string{
		serviceUUID().String(),
		peerNameCharUUID().String(),
		identityCharUUID().String(),
		psmCharUUID().String(),
	}
	seen := map[string]bool{}
	for _, u := range uuids {
		if seen[u] {
			t.Fatalf("duplicate uuid %s", u)
		}
		seen[u] = true
	}
}

func TestDeviceFromPeripheralID(t *testing.T) {
	d := deviceFromPeripheralID("AA:BB:CC:DD:EE:FF")
	want := [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if d.Addr != want {
		t.Fatalf("got %x, want %x", d.Addr, want)
	}
}

func TestContainsUUID(t *testing.T) {
	uuids := []gatt.UUID{serviceUUID()}
	if !containsUUID(uuids, serviceUUID()) {
		t.Fatal("expected containsUUID to find serviceUUID")
	}
	if containsUUID(uuids, peerNameCharUUID()) {
		t.Fatal("expected containsUUID to not find unrelated uuid")
	}
}
