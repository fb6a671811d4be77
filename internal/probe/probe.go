// Package probe implements the three probe flavors (echo, datagram,
// stream), each following the same register -> transmit -> await ->
// cleanup skeleton.
package probe

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

// maxRegisterAttempts bounds how many times a probe whose correlation key
// collides with a live registration redraws it: a fresh random identifier
// for echo, a fresh ephemeral bind for datagram/stream.
const maxRegisterAttempts = 8

// Request describes one probe to send.
type Request struct {
	Family  core.Family
	Dest    net.IP
	TTL     int
	Timeout time.Duration

	// DatagramPort is the destination port datagram probes target.
	// Defaults to 33434, the traditional "unlikely" traceroute port.
	DatagramPort uint16
	// StreamPort is the destination port stream probes target. Defaults
	// to 80.
	StreamPort uint16

	// DatagramFactory and StreamFactory override how the datagram/stream
	// flavors open their own send-socket. Nil defaults to the real kernel
	// socket; tests substitute a fake so no probe needs root or a real
	// network.
	DatagramFactory DatagramFactory
	StreamFactory   StreamFactory
}

func (r Request) datagramPort() uint16 {
	if r.DatagramPort != 0 {
		return r.DatagramPort
	}
	return 33434
}

func (r Request) streamPort() uint16 {
	if r.StreamPort != 0 {
		return r.StreamPort
	}
	return 80
}

func (r Request) datagramFactory() DatagramFactory {
	if r.DatagramFactory != nil {
		return r.DatagramFactory
	}
	family := r.Family
	return func() (DatagramSocket, error) { return OpenDatagramSocket(family) }
}

func (r Request) streamFactory() StreamFactory {
	if r.StreamFactory != nil {
		return r.StreamFactory
	}
	family := r.Family
	return func() (StreamSocket, error) { return OpenStreamSocket(family) }
}

// Send dispatches to the probe flavor matching kind and returns its
// outcome. mgr is the shared receiver every flavor registers with.
func Send(ctx context.Context, mgr *receiver.Manager, kind core.Kind, req Request) core.ProbeResult {
	switch kind {
	case core.KindEcho:
		return sendEcho(ctx, mgr, req)
	case core.KindDatagram:
		return sendDatagram(ctx, mgr, req)
	case core.KindStream:
		return sendStream(ctx, mgr, req)
	default:
		return core.ProbeResult{Kind: kind, TTL: req.TTL, Start: now(), Err: errUnknownKind(kind)}
	}
}

// now is monotonic wall time; factored out purely so probe code reads the
// same way throughout (time.Now() already returns a monotonic-reading
// value on every platform Go supports).
func now() time.Time { return time.Now() }

// randomIdentifier draws a 16-bit echo identifier. Collisions across
// concurrently live probes are rejected by the receiver's register call and
// retried by the caller.
func randomIdentifier() uint16 {
	return uint16(rand.Intn(1 << 16))
}

// destReachedByAddr reports whether addr (the embedded-destination or
// reply-source address of an inbound message) identifies the final target.
func destReachedByAddr(addr, target net.IP) bool {
	if addr == nil || target == nil {
		return false
	}
	return addr.Equal(target)
}
