package trace

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/probe"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

// Sender matches probe.Send's signature. Tests substitute a fake sender to
// drive whole multi-hop traces without opening any socket at all.
type Sender func(ctx context.Context, mgr *receiver.Manager, kind core.Kind, req probe.Request) core.ProbeResult

// Runner drives a trace. It holds the shared receiver manager every probe
// registers with and the Sender used to launch them.
type Runner struct {
	mgr   *receiver.Manager
	send  Sender
	log   *logrus.Entry
	dgFac probe.DatagramFactory
	stFac probe.StreamFactory
}

// NewRunner constructs a Runner against mgr, the shared receiver manager.
// log may be nil (defaults to a silent entry).
func NewRunner(mgr *receiver.Manager, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
	}
	return &Runner{mgr: mgr, send: probe.Send, log: log.WithField("component", "trace")}
}

// WithSender overrides the Sender used to launch probes (test injection
// point).
func (r *Runner) WithSender(s Sender) *Runner {
	r.send = s
	return r
}

// WithSocketFactories overrides the datagram/stream socket factories every
// launched probe.Request carries, so tests can drive the datagram/stream
// flavors through a fake socket without Sender-level substitution.
func (r *Runner) WithSocketFactories(dg probe.DatagramFactory, st probe.StreamFactory) *Runner {
	r.dgFac = dg
	r.stFac = st
	return r
}

// Run drives the full TTL ladder and returns the ordered trace plus
// whether the destination was reached. A non-nil error is fatal: the
// receiver for this family could not start.
func (r *Runner) Run(ctx context.Context, dest net.IP, opts Options) (core.Trace, bool, error) {
	if err := r.mgr.GetOrStart(opts.Family); err != nil {
		return nil, false, err
	}

	var result core.Trace
	for ttl := opts.MinTTL; ttl <= opts.MaxHops; ttl++ {
		hop, reached, err := r.runHopWithRetries(ctx, dest, opts, ttl)
		if err != nil {
			return result, false, err
		}
		result = append(result, hop)
		if reached {
			return result, true, nil
		}
	}
	return result, false, nil
}

// runHopWithRetries runs one TTL, retrying a total-timeout hop up to
// opts.MaxRetries times.
func (r *Runner) runHopWithRetries(ctx context.Context, dest net.IP, opts Options, ttl int) (core.HopResult, bool, error) {
	var retries int
	for {
		outcomes, err := r.runHop(ctx, dest, opts, ttl)
		if err != nil {
			return core.HopResult{}, false, err
		}

		hop, status := combine(ttl, outcomes, retries)
		switch status {
		case hopRetry:
			if retries < opts.MaxRetries {
				retries++
				continue
			}
			hop.Status = core.HopTimeout
			hop.Retries = opts.MaxRetries
			return hop, false, nil
		case hopReached:
			return hop, true, nil
		default:
			return hop, false, nil
		}
	}
}

// combineStatus tags what runHopWithRetries should do next; it is a
// superset of core.HopStatus with the "retry this TTL again" case the
// public HopStatus doesn't need to expose.
type combineStatus int

const (
	hopReached combineStatus = iota
	hopIntermediate
	hopRetry
	hopError
)

// combine folds one hop's probe outcomes into a core.HopResult, in order
// of precedence: reached, then intermediate, then total-timeout (retry),
// then error.
func combine(ttl int, outcomes []core.ProbeResult, retries int) (core.HopResult, combineStatus) {
	var reached, intermediate []core.ProbeResult
	var firstErr error
	allTimedOut := true

	for _, o := range outcomes {
		if o.Err != nil {
			// A probe killed by the per-hop/per-probe hard cap counts as
			// timed out, not as a hop error.
			if errors.Is(o.Err, context.DeadlineExceeded) {
				continue
			}
			if firstErr == nil {
				firstErr = o.Err
			}
			allTimedOut = false
			continue
		}
		if o.TimedOut {
			continue
		}
		allTimedOut = false
		if o.Reached {
			reached = append(reached, o)
		} else if o.Peer != nil {
			intermediate = append(intermediate, o)
		}
	}

	if len(reached) > 0 {
		// Include same-TTL intermediates: they most likely also reached
		// the destination even without the destination-specific reply.
		all := append(append([]core.ProbeResult(nil), reached...), intermediate...)
		return core.HopResult{TTL: ttl, Status: core.HopReached, Probes: all}, hopReached
	}
	if len(intermediate) > 0 {
		return core.HopResult{TTL: ttl, Status: core.HopIntermediate, Probes: intermediate}, hopIntermediate
	}
	if allTimedOut && len(outcomes) > 0 {
		return core.HopResult{TTL: ttl, Status: core.HopTimeout, Retries: retries}, hopRetry
	}
	return core.HopResult{TTL: ttl, Status: core.HopError, Err: firstErr}, hopError
}

// runHop launches opts.ProbesPerHop probes against ttl, staggered 50ms
// apart, and waits for all of them to finish or for the aggregate per-hop
// hard cap to expire.
func (r *Runner) runHop(ctx context.Context, dest net.IP, opts Options, ttl int) ([]core.ProbeResult, error) {
	hopCtx, cancel := context.WithTimeout(ctx, opts.hopTimeout())
	defer cancel()

	results := make([]core.ProbeResult, opts.ProbesPerHop)
	g, gctx := errgroup.WithContext(hopCtx)

	for i := 0; i < opts.ProbesPerHop; i++ {
		i := i
		delay := time.Duration(i) * Stagger
		g.Go(func() error {
			select {
			case <-time.After(delay):
			case <-gctx.Done():
				results[i] = core.ProbeResult{Kind: opts.Kind, TTL: ttl, TimedOut: true}
				return nil
			}

			probeCtx, probeCancel := context.WithTimeout(gctx, opts.probeHardCap())
			defer probeCancel()

			req := probe.Request{
				Family:          opts.Family,
				Dest:            dest,
				TTL:             ttl,
				Timeout:         opts.Timeout,
				DatagramPort:    opts.DatagramPort,
				StreamPort:      opts.StreamPort,
				DatagramFactory: r.dgFac,
				StreamFactory:   r.stFac,
			}
			results[i] = r.send(probeCtx, r.mgr, opts.Kind, req)
			return nil
		})
	}

	// errgroup here is purely a fan-out/join mechanism: probe outcomes are
	// carried in results, never as a returned error, so one probe's
	// failure never cancels its siblings early.
	_ = g.Wait()
	return results, nil
}
