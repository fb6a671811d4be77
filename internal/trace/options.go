// Package trace implements the per-hop orchestrator that drives probe.Send
// across a TTL ladder, staggering concurrent launches, retrying a hop that
// times out completely, and folding each hop's probe outcomes into one
// core.HopResult.
package trace

import (
	"time"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// Stagger is the delay between launching successive probes at the same
// hop. Intermediate routers rate-limit ICMP error generation; firing all
// probes at the same instant loses most replies. Must be > 0.
const Stagger = 50 * time.Millisecond

// Options configures one orchestrator run, mirroring the fields of the
// public Options at the library boundary but already resolved to engine
// types (Family/Kind instead of strings).
type Options struct {
	Kind         core.Kind
	Family       core.Family
	MaxHops      int
	MaxRetries   int
	Timeout      time.Duration
	ProbesPerHop int
	MinTTL       int
	DatagramPort uint16
	StreamPort   uint16
}

// hopTimeout is the aggregate per-hop hard cap: the per-probe timeout plus
// one second of slack plus the accumulated stagger. A probe still in
// flight past this point is killed regardless of its own timer.
func (o Options) hopTimeout() time.Duration {
	return o.Timeout + time.Second + time.Duration(o.ProbesPerHop)*Stagger
}

// probeHardCap is the per-task hard cap: the probe's own timeout plus one
// second of slack.
func (o Options) probeHardCap() time.Duration {
	return o.Timeout + time.Second
}
