// Package porttable is the virtual-connection table: it maps a 16-bit port
// to the write half of its local TCP connection and allocates fresh ports
// with wraparound. It is read and written by several mux tasks concurrently,
// so a single mutex guards both the map and the allocator's collision check.
package porttable

import (
	"errors"
	"io"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/viam-labs/ble-managed/internal/wire"
)

// ErrPortCollision is returned by Insert when the port already has a live
// entry.
var ErrPortCollision = errors.New("porttable: port collision")

// ErrTooManyOpenConnections is returned by Allocate when the port it
// allocates is already live. Only that one port is checked; no other free
// port is searched for.
var ErrTooManyOpenConnections = errors.New("porttable: too many open connections")

// recentlyClosedCap bounds the diagnostic LRU of recently removed ports, so
// memory use under connection churn stays flat.
const recentlyClosedCap = 256

// Table is the concurrent port -> write-half map plus the monotonic port
// allocator. The zero value is not usable; construct with New.
type Table struct {
	mu       sync.Mutex
	entries  map[uint16]io.WriteCloser
	nextPort uint16 // fetched-and-incremented under mu; wraps 65535 -> 1
	recently *lru.Cache
}

// New returns an empty Table with the allocator starting at port 1. Port 0
// is reserved on the wire to mark Control packets, so 1 is the only
// correct starting value (see spec DESIGN NOTES on next_port).
func New() *Table {
	return &Table{
		entries:  make(map[uint16]io.WriteCloser),
		nextPort: wire.MinPort,
		recently: lru.New(recentlyClosedCap),
	}
}

// Allocate fetches-and-increments the port counter with wraparound and
// inserts writeHalf for the returned port. It fails ErrTooManyOpenConnections
// if the freshly allocated port is already live — wraparound into a live
// port is never silently overwritten.
func (t *Table) Allocate(writeHalf io.WriteCloser) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := t.nextPort
	if t.nextPort == wire.MaxPort {
		t.nextPort = wire.MinPort
	} else {
		t.nextPort++
	}

	if _, live := t.entries[port]; live {
		return 0, ErrTooManyOpenConnections
	}
	t.entries[port] = writeHalf
	return port, nil
}

// Insert adds an out-of-band entry for port (used by tests and by any
// caller that allocates ports itself). It fails ErrPortCollision if the
// port already has a live entry.
func (t *Table) Insert(port uint16, writeHalf io.WriteCloser) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, live := t.entries[port]; live {
		return ErrPortCollision
	}
	t.entries[port] = writeHalf
	return nil
}

// Get returns the write half for port, if live.
func (t *Table) Get(port uint16) (io.WriteCloser, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wh, ok := t.entries[port]
	return wh, ok
}

// Contains reports whether port currently has a live entry.
func (t *Table) Contains(port uint16) bool {
	_, ok := t.Get(port)
	return ok
}

// Remove deletes port's entry, closing its write half, and records the
// removal in the diagnostic recently-closed LRU (also when the port was not
// live). It reports whether the port was actually live, which the mux uses
// to choose its log line for a peer-sent close.
func (t *Table) Remove(port uint16) (wasLive bool) {
	t.mu.Lock()
	wh, ok := t.entries[port]
	if ok {
		delete(t.entries, port)
	}
	t.recently.Add(port, struct{}{})
	t.mu.Unlock()

	if ok && wh != nil {
		_ = wh.Close()
	}
	return ok
}

// RecentlyClosed reports whether port was removed recently enough to still
// be in the diagnostic LRU. Used to downgrade "data for unknown port" log
// lines from warning to debug when the data merely arrived after the port
// was closed rather than for a port this side never opened.
func (t *Table) RecentlyClosed(port uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.recently.Get(port)
	return ok
}

// Len returns the number of live entries. Exposed for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear removes and closes every live entry. Called by the mux on stop.
func (t *Table) Clear() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint16]io.WriteCloser)
	t.mu.Unlock()
	for _, wh := range entries {
		if wh != nil {
			_ = wh.Close()
		}
	}
}
