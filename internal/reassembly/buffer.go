// Package reassembly turns a channel of arbitrarily-chunked transport reads
// into the exact-length reads the wire codec needs, bounded by an idle
// timeout that doubles as transport-loss detection: a healthy peer sends a
// keepalive at least once a second, so ten seconds of silence means the
// link is gone.
package reassembly

import (
	"errors"
	"time"
)

// Idle is the maximum time ReadExact will wait for the next chunk before
// treating the transport as lost. Ten times the keepalive cadence leaves
// ample margin for scheduling jitter while still detecting loss well
// before a caller would otherwise notice. Variable so tests can shrink it.
var Idle = 10 * time.Second

var (
	// ErrTransportTimeout means no chunk arrived within Idle.
	ErrTransportTimeout = errors.New("reassembly: transport timeout")
	// ErrTransportClosed means the chunk channel was closed.
	ErrTransportClosed = errors.New("reassembly: transport closed")
)

// Buffer assembles a sequence of byte chunks delivered on its channel into
// exact-length reads. It is oblivious to packet framing; only the codec
// above it interprets bytes.
type Buffer struct {
	chunks   <-chan []byte
	residual []byte
}

// New returns a Buffer that pulls chunks from ch. The caller (the transport
// reader task) owns ch and closes it to signal ErrTransportClosed.
func New(ch <-chan []byte) *Buffer {
	return &Buffer{chunks: ch}
}

// ReadExact returns exactly n bytes spliced from the front of the residual,
// blocking on incoming chunks as needed. Excess bytes from the last chunk
// consumed remain in the residual for the next call.
func (b *Buffer) ReadExact(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	for len(b.residual) < n {
		timer := time.NewTimer(Idle)
		select {
		case chunk, ok := <-b.chunks:
			timer.Stop()
			if !ok {
				return nil, ErrTransportClosed
			}
			b.residual = append(b.residual, chunk...)
		case <-timer.C:
			return nil, ErrTransportTimeout
		}
	}
	out := b.residual[:n]
	b.residual = b.residual[n:]
	return out, nil
}
