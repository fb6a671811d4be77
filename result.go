package pathtrace

import (
	"net"
	"time"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// HopStatus tags one hop's outcome, mirroring internal/core.HopStatus at
// the public boundary.
type HopStatus string

const (
	HopReached      HopStatus = "reached"
	HopIntermediate HopStatus = "intermediate"
	HopTimeout      HopStatus = "timeout"
	HopError        HopStatus = "error"
)

// ProbeResult is one probe's outcome within a hop.
type ProbeResult struct {
	TTL     int
	Start   time.Time
	Elapsed time.Duration
	Peer    net.IP
	Reached bool
}

// HopResult is the combined outcome of every probe launched at one TTL.
type HopResult struct {
	TTL     int
	Status  HopStatus
	Probes  []ProbeResult
	Retries int
	Err     error
}

// Trace is the ordered sequence of hop results Run returns.
type Trace []HopResult

// Result is what Run returns: the resolved target, whether the destination
// was reached, and the trace collected so far either way.
type Result struct {
	Target  string
	Dest    net.IP
	Reached bool
	Trace   Trace
}

func fromCoreStatus(s core.HopStatus) HopStatus {
	switch s {
	case core.HopReached:
		return HopReached
	case core.HopIntermediate:
		return HopIntermediate
	case core.HopTimeout:
		return HopTimeout
	default:
		return HopError
	}
}

func toCoreStatus(s HopStatus) core.HopStatus {
	switch s {
	case HopReached:
		return core.HopReached
	case HopIntermediate:
		return core.HopIntermediate
	case HopTimeout:
		return core.HopTimeout
	default:
		return core.HopError
	}
}

// toCore rebuilds enough of internal/core.Trace to drive adapters.Render /
// adapters.RenderDot from a Trace a caller received back from Run.
func (t Trace) toCore() core.Trace {
	out := make(core.Trace, len(t))
	for i, hop := range t {
		probes := make([]core.ProbeResult, len(hop.Probes))
		for j, p := range hop.Probes {
			probes[j] = core.ProbeResult{
				TTL:     p.TTL,
				Start:   p.Start,
				Elapsed: p.Elapsed,
				Peer:    p.Peer,
				Reached: p.Reached,
			}
		}
		out[i] = core.HopResult{
			TTL:     hop.TTL,
			Status:  toCoreStatus(hop.Status),
			Probes:  probes,
			Retries: hop.Retries,
			Err:     hop.Err,
		}
	}
	return out
}

func fromCoreTrace(tr core.Trace) Trace {
	out := make(Trace, len(tr))
	for i, hop := range tr {
		probes := make([]ProbeResult, len(hop.Probes))
		for j, p := range hop.Probes {
			probes[j] = ProbeResult{
				TTL:     p.TTL,
				Start:   p.Start,
				Elapsed: p.Elapsed,
				Peer:    p.Peer,
				Reached: p.Reached,
			}
		}
		out[i] = HopResult{
			TTL:     hop.TTL,
			Status:  fromCoreStatus(hop.Status),
			Probes:  probes,
			Retries: hop.Retries,
			Err:     hop.Err,
		}
	}
	return out
}
