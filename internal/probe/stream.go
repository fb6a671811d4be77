package probe

import (
	"context"
	"time"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

// sendStream implements the stream probe flavor: a TCP handshake is the
// probe signal itself. A connect that succeeds, is refused, or is reset all
// mean the host itself answered; a connect that fails at the network layer
// (host/network unreachable, timed out) still leaves the door open for an
// ICMP error to arrive and resolve the hop.
func sendStream(ctx context.Context, mgr *receiver.Manager, req Request) core.ProbeResult {
	waiter := make(chan receiver.Delivery, 1)

	var sock StreamSocket
	var key core.CorrelationKey
	registered := false
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		s, err := req.streamFactory()()
		if err != nil {
			return core.ProbeResult{Kind: core.KindStream, TTL: req.TTL, Start: now(), Err: err}
		}
		if err := s.SetHopLimit(req.TTL); err != nil {
			s.Close()
			return core.ProbeResult{Kind: core.KindStream, TTL: req.TTL, Start: now(), Err: err}
		}
		key = core.CorrelationKey{Kind: core.KindStream, Identifier: s.LocalPort()}
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
			return core.ProbeResult{Kind: core.KindStream, TTL: req.TTL, Start: now(), Err: err}
		}
	}
	if !registered {
		return core.ProbeResult{Kind: core.KindStream, TTL: req.TTL, Start: now(), Err: core.ErrAlreadyRegistered}
	}
	defer sock.Close()
	defer mgr.Unregister(req.Family, key)

	start := now()
	connectCh := sock.Connect(req.Dest, req.streamPort())

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	base := func() core.ProbeResult {
		return core.ProbeResult{Kind: core.KindStream, TTL: req.TTL, Start: start, Elapsed: now().Sub(start)}
	}

	for {
		select {
		case d := <-waiter:
			result := base()
			result.Peer = d.Peer
			if d.Message.Type == core.TypeDestinationUnreachable {
				result.Reached = destReachedByAddr(d.Message.EmbeddedDestAddr, req.Dest)
			}
			return result

		case cr := <-connectCh:
			connectCh = nil // the socket reports exactly one outcome
			switch cr.Outcome {
			case ConnectSuccess, ConnectRefused, ConnectReset:
				result := base()
				result.Reached = true
				return result
			case ConnectHostUnreachable, ConnectNetworkUnreachable, ConnectTimeout:
				// Recoverable within the probe: keep waiting for an
				// ICMP error to resolve the hop instead.
				continue
			default:
				result := base()
				result.Err = cr.Err
				return result
			}

		case <-timer.C:
			result := base()
			result.TimedOut = true
			return result

		case <-ctx.Done():
			result := base()
			result.Err = ctx.Err()
			return result
		}
	}
}
