package l2cap

import "testing"

func TestDeviceString(t *testing.T) {
	d := Device{Addr: [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	want := "06:05:04:03:02:01"
	if got := d.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
