package probe

import (
	"context"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
	"github.com/dnaeon/go-pathtrace/internal/wire"
)

// sendEcho implements the echo probe flavor: a random 16-bit identifier,
// transmitted through the shared receiver's own socket so replies land on
// the socket the kernel will actually route them back to.
func sendEcho(ctx context.Context, mgr *receiver.Manager, req Request) core.ProbeResult {
	waiter := make(chan receiver.Delivery, 1)

	var key core.CorrelationKey
	registered := false
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		key = core.CorrelationKey{Kind: core.KindEcho, Identifier: randomIdentifier()}
		err := mgr.Register(req.Family, key, waiter)
		if err == nil {
			registered = true
			break
		}
		if err != core.ErrAlreadyRegistered {
			return core.ProbeResult{Kind: core.KindEcho, TTL: req.TTL, Start: now(), Err: err}
		}
	}
	if !registered {
		return core.ProbeResult{Kind: core.KindEcho, TTL: req.TTL, Start: now(), Err: core.ErrAlreadyRegistered}
	}
	defer mgr.Unregister(req.Family, key)

	packet := wire.EncodeEcho(req.Family, key.Identifier, uint16(req.TTL), make([]byte, 32))

	start := now()
	if err := mgr.Send(req.Family, req.TTL, packet, req.Dest); err != nil {
		return core.ProbeResult{Kind: core.KindEcho, TTL: req.TTL, Start: start, Err: err}
	}

	delivery, outcome := awaitDelivery(ctx, waiter, req.Timeout)
	result := core.ProbeResult{Kind: core.KindEcho, TTL: req.TTL, Start: start, Elapsed: now().Sub(start)}

	switch outcome {
	case awaitTimedOut:
		result.TimedOut = true
	case awaitCancelled:
		result.Err = ctx.Err()
	case awaitDelivered:
		result.Peer = delivery.Peer
		switch delivery.Message.Type {
		case core.TypeEchoReply:
			result.Reached = destReachedByAddr(delivery.Peer, req.Dest)
		case core.TypeDestinationUnreachable:
			// A time-exceeded also embeds a packet addressed to the
			// target (every probe is), so only destination-unreachable
			// identifies the destination here.
			result.Reached = destReachedByAddr(delivery.Message.EmbeddedDestAddr, req.Dest)
		}
	}
	return result
}
