package reassembly

import (
	"bytes"
	"testing"
	"time"
)

// ChunkIndependence (property 2): any two chunkings of the same byte stream
// produce the same sequence of exact-length reads.
func TestChunkIndependence(t *testing.T) {
	stream := []byte("hello, reassembly world")
	chunkings := [][][]byte{
		{stream},
		{stream[:1], stream[1:5], stream[5:]},
		splitEvery(stream, 3),
	}
	reads := []int{3, 1, 1, 5, len(stream) - 10}

	var results [][][]byte
	for _, chunking := range chunkings {
		ch := make(chan []byte, len(chunking))
		for _, c := range chunking {
			ch <- c
		}
		close(ch)
		buf := New(ch)
		var got [][]byte
		for _, n := range reads {
			out, err := buf.ReadExact(n)
			if err != nil {
				t.Fatalf("chunking %v: ReadExact(%d): %v", chunking, n, err)
			}
			got = append(got, append([]byte{}, out...))
		}
		results = append(results, got)
	}

	for i := 1; i < len(results); i++ {
		for j := range results[0] {
			if !bytes.Equal(results[0][j], results[i][j]) {
				t.Fatalf("chunking %d diverged at read %d: %q vs %q", i, j, results[0][j], results[i][j])
			}
		}
	}
}

func splitEvery(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		if len(b) < n {
			n = len(b)
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}

func TestReadExactClosedChannel(t *testing.T) {
	ch := make(chan []byte)
	close(ch)
	buf := New(ch)
	_, err := buf.ReadExact(1)
	if err != ErrTransportClosed {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

// property 6 / E6: silence for Idle triggers a timeout quickly, not after
// some much larger wait.
func TestReadExactTimeout(t *testing.T) {
	orig := Idle
	defer func() { Idle = orig }()
	Idle = 50 * time.Millisecond

	ch := make(chan []byte)
	buf := New(ch)
	start := time.Now()
	_, err := buf.ReadExact(1)
	elapsed := time.Since(start)
	if err != ErrTransportTimeout {
		t.Fatalf("expected ErrTransportTimeout, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestReadExactZero(t *testing.T) {
	ch := make(chan []byte)
	buf := New(ch)
	out, err := buf.ReadExact(0)
	if err != nil || len(out) != 0 {
		t.Fatalf("ReadExact(0) = %v, %v", out, err)
	}
}
