package porttable

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/viam-labs/ble-managed/internal/wire"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

var _ io.WriteCloser = nopWriteCloser{}

func TestAllocateStartsAtOne(t *testing.T) {
	tb := New()
	port, err := tb.Allocate(nopWriteCloser{})
	if err != nil {
		t.Fatal(err)
	}
	if port != wire.MinPort {
		t.Fatalf("first allocated port = %d, want %d", port, wire.MinPort)
	}
}

func TestAllocateWraparound(t *testing.T) {
	tb := New()
	tb.nextPort = wire.MaxPort
	port, err := tb.Allocate(nopWriteCloser{})
	if err != nil {
		t.Fatal(err)
	}
	if port != wire.MaxPort {
		t.Fatalf("got %d, want %d", port, wire.MaxPort)
	}
	port, err = tb.Allocate(nopWriteCloser{})
	if err != nil {
		t.Fatal(err)
	}
	if port != wire.MinPort {
		t.Fatalf("after wraparound got %d, want %d", port, wire.MinPort)
	}
}

func TestAllocateCollisionOnWraparound(t *testing.T) {
	tb := New()
	tb.nextPort = wire.MaxPort
	if _, err := tb.Allocate(nopWriteCloser{}); err != nil {
		t.Fatal(err)
	}
	// nextPort is now 1 (MinPort). Occupy it directly, then force another
	// wraparound attempt onto the same port.
	if err := tb.Insert(wire.MinPort, nopWriteCloser{}); err != nil {
		t.Fatal(err)
	}
	tb.nextPort = wire.MinPort
	_, err := tb.Allocate(nopWriteCloser{})
	if err != ErrTooManyOpenConnections {
		t.Fatalf("expected ErrTooManyOpenConnections, got %v", err)
	}
}

func TestInsertCollision(t *testing.T) {
	tb := New()
	if err := tb.Insert(5, nopWriteCloser{}); err != nil {
		t.Fatal(err)
	}
	if err := tb.Insert(5, nopWriteCloser{}); err != ErrPortCollision {
		t.Fatalf("expected ErrPortCollision, got %v", err)
	}
}

// PortUniquenessUnderChurn (property 3): after any interleaving of
// Allocate and Remove, no two live entries share a port, which for a map
// keyed by port is equivalent to saying Allocate never silently overwrites
// a live entry.
func TestPortUniquenessUnderChurn(t *testing.T) {
	tb := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	live := map[uint16]bool{}
	errs := make(chan error, 1000)

	worker := func(seed int64) {
		defer wg.Done()
		r := rand.New(rand.NewSource(seed))
		for i := 0; i < 200; i++ {
			if r.Intn(2) == 0 {
				port, err := tb.Allocate(nopWriteCloser{})
				if err == ErrTooManyOpenConnections {
					continue
				}
				if err != nil {
					errs <- err
					continue
				}
				mu.Lock()
				if live[port] {
					errs <- fmt.Errorf("port %d allocated while already live", port)
				}
				live[port] = true
				mu.Unlock()
			} else {
				mu.Lock()
				var victim uint16
				found := false
				for p := range live {
					victim = p
					found = true
					break
				}
				if found {
					delete(live, victim)
				}
				mu.Unlock()
				if found {
					tb.Remove(victim)
				}
			}
		}
	}

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go worker(int64(g + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRemoveReportsLiveness(t *testing.T) {
	tb := New()
	if tb.Remove(9) {
		t.Fatal("expected Remove on absent port to report false")
	}
	if err := tb.Insert(9, nopWriteCloser{}); err != nil {
		t.Fatal(err)
	}
	if !tb.Remove(9) {
		t.Fatal("expected Remove on live port to report true")
	}
	if !tb.RecentlyClosed(9) {
		t.Fatal("expected port to be tracked as recently closed")
	}
}
