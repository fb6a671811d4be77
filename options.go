// Package pathtrace discovers the network path to a host by sending
// probes with deliberately limited hop counts and correlating the ICMP
// errors they provoke back to the probe that sent them. It supports echo,
// datagram, and stream probes over both IPv4 and IPv6, behind a single
// Run function taking a target and a flat Options struct.
package pathtrace

import "time"

// Kind selects which of the three probing methods Run uses.
type Kind string

const (
	KindEcho     Kind = "echo"
	KindDatagram Kind = "datagram"
	KindStream   Kind = "stream"
)

// Family selects which address family to probe over. Leave it empty to
// auto-derive from a numeric target; for a hostname target it defaults to
// FamilyV4.
type Family string

const (
	FamilyV4 Family = "v4"
	FamilyV6 Family = "v6"
)

// Options configures Run. Run fills every zero-valued field except
// PrintOutput from DefaultOptions, so the zero Options traces with the
// defaults and prints nothing.
type Options struct {
	// Kind is the probe flavor. Defaults to KindDatagram.
	Kind Kind
	// Family is v4 or v6. Auto-derived when Target is already numeric.
	Family Family
	// MaxHops is the upper hop bound. Defaults to 20.
	MaxHops int
	// MaxRetries is the per-hop retry count on total timeout. Defaults to 3.
	MaxRetries int
	// Timeout is how long to wait for a response to a single probe.
	// Defaults to 1s.
	Timeout time.Duration
	// ProbesPerHop is the number of parallel probes per TTL. Defaults to 3.
	ProbesPerHop int
	// MinTTL is the starting TTL, letting callers skip near hops. Defaults
	// to 1.
	MinTTL int
	// PrintOutput emits a human-readable trace to stdout once the trace
	// has completed. Defaults to true.
	PrintOutput bool
}

// DefaultOptions returns the defaults Run assumes for any zero field other
// than PrintOutput.
func DefaultOptions() Options {
	return Options{
		Kind:         KindDatagram,
		Family:       FamilyV4,
		MaxHops:      20,
		MaxRetries:   3,
		Timeout:      1 * time.Second,
		ProbesPerHop: 3,
		MinTTL:       1,
		PrintOutput:  true,
	}
}

// withDefaults fills any zero-valued field of o from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Kind == "" {
		o.Kind = d.Kind
	}
	if o.Family == "" {
		o.Family = d.Family
	}
	if o.MaxHops == 0 {
		o.MaxHops = d.MaxHops
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.ProbesPerHop == 0 {
		o.ProbesPerHop = d.ProbesPerHop
	}
	if o.MinTTL == 0 {
		o.MinTTL = d.MinTTL
	}
	return o
}
