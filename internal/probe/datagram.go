package probe

import (
	"context"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

// sendDatagram implements the datagram probe flavor: bind an ephemeral
// UDP socket, register its port with the shared receiver, and send a short
// payload to the "unlikely" destination port.
func sendDatagram(ctx context.Context, mgr *receiver.Manager, req Request) core.ProbeResult {
	waiter := make(chan receiver.Delivery, 1)

	var sock DatagramSocket
	var key core.CorrelationKey
	registered := false
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		s, err := req.datagramFactory()()
		if err != nil {
			return core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: now(), Err: err}
		}
		if err := s.SetHopLimit(req.TTL); err != nil {
			s.Close()
			return core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: now(), Err: err}
		}
		key = core.CorrelationKey{Kind: core.KindDatagram, Identifier: s.LocalPort()}
		err = mgr.Register(req.Family, key, waiter)
		if err == nil {
			sock = s
			registered = true
			break
		}
		// The port is kernel-assigned, so a collision means re-binding
		// a fresh socket, not just re-registering.
		s.Close()
		if err != core.ErrAlreadyRegistered {
			return core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: now(), Err: err}
		}
	}
	if !registered {
		return core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: now(), Err: core.ErrAlreadyRegistered}
	}
	defer sock.Close()
	defer mgr.Unregister(req.Family, key)

	start := now()
	payload := make([]byte, 32)
	if err := sock.SendTo(payload, req.Dest, req.datagramPort()); err != nil {
		return core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: start, Err: err}
	}

	delivery, outcome := awaitDelivery(ctx, waiter, req.Timeout)
	result := core.ProbeResult{Kind: core.KindDatagram, TTL: req.TTL, Start: start, Elapsed: now().Sub(start)}

	switch outcome {
	case awaitTimedOut:
		result.TimedOut = true
	case awaitCancelled:
		result.Err = ctx.Err()
	case awaitDelivered:
		result.Peer = delivery.Peer
		// Only a destination-unreachable identifies the destination; a
		// time-exceeded embeds a packet addressed to the target too, but
		// comes from an intermediate hop.
		if delivery.Message.Type == core.TypeDestinationUnreachable {
			result.Reached = destReachedByAddr(delivery.Message.EmbeddedDestAddr, req.Dest)
		}
	}
	return result
}
