package forwarder

import "errors"

// Sentinel error kinds surfaced to Run, per spec.md §7. Wrap one of these
// with fmt.Errorf's %w when returning from runOnce so Run can classify the
// failure with errors.Is.
var (
	// ErrTransportFault covers decode failure, read timeout, or a
	// post-handshake write failure on the L2CAP stream.
	ErrTransportFault = errors.New("forwarder: transport fault")

	// ErrTransportClosed is a graceful EOF on the L2CAP stream.
	ErrTransportClosed = errors.New("forwarder: transport closed")

	// ErrRendezvousFailed covers scan timeout, PSM parse failure, or GATT
	// resolution failure.
	ErrRendezvousFailed = errors.New("forwarder: rendezvous failed")

	// ErrLocalBindFailed means 127.0.0.1:1080 could not be bound. Fatal.
	ErrLocalBindFailed = errors.New("forwarder: local bind failed")

	// ErrConfigMissing means no identity was available after retries.
	// identity.Load already retries forever internally, so this should
	// only surface if Load's context was cancelled.
	ErrConfigMissing = errors.New("forwarder: config missing")
)

// outcome is what runOnce decides once the select loop exits: whether the
// outer driver should re-enter rendezvous or the whole process should
// stop.
type outcome int

const (
	outcomeRestart outcome = iota
	outcomeExit
)
