package pathtrace

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dnaeon/go-pathtrace/adapters"
	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
	"github.com/dnaeon/go-pathtrace/internal/trace"
)

// Re-exported boundary errors. Their dynamic type lives in an internal
// package but errors.Is works across that boundary exactly as it does for
// any wrapped stdlib error.
var (
	ErrResolutionFailed = core.ErrResolutionFailed
	ErrPermissionDenied = core.ErrPermissionDenied
	ErrHostUnreachable  = core.ErrHostUnreachable
)

// ErrMaxHopsExceeded is returned when the trace completed its full TTL
// ladder without reaching the destination. The partial trace is still
// present on the returned Result.
var ErrMaxHopsExceeded = errors.New("pathtrace: max hops exceeded without reaching destination")

func toCoreKind(k Kind) core.Kind {
	switch k {
	case KindEcho:
		return core.KindEcho
	case KindStream:
		return core.KindStream
	default:
		return core.KindDatagram
	}
}

func toCoreFamily(f Family) core.Family {
	if f == FamilyV6 {
		return core.FamilyV6
	}
	return core.FamilyV4
}

func fromCoreFamily(f core.Family) Family {
	if f == core.FamilyV6 {
		return FamilyV6
	}
	return FamilyV4
}

// Run resolves target and drives a full traceroute against it. target may
// be a hostname or a numeric address; opts.Family only steers which family
// a hostname resolves to (a numeric target picks its own family
// automatically).
func Run(ctx context.Context, target string, opts Options) (Result, error) {
	opts = opts.withDefaults()

	dest, family, err := adapters.ResolveTarget(ctx, target, toCoreFamily(opts.Family))
	if err != nil {
		return Result{Target: target}, err
	}

	runner := trace.NewRunner(receiver.Default, nil)
	traceOpts := trace.Options{
		Kind:         toCoreKind(opts.Kind),
		Family:       family,
		MaxHops:      opts.MaxHops,
		MaxRetries:   opts.MaxRetries,
		Timeout:      opts.Timeout,
		ProbesPerHop: opts.ProbesPerHop,
		MinTTL:       opts.MinTTL,
	}

	coreTrace, reached, err := runner.Run(ctx, dest, traceOpts)
	result := Result{
		Target:  target,
		Dest:    dest,
		Reached: reached,
		Trace:   fromCoreTrace(coreTrace),
	}
	if err != nil {
		return result, err
	}

	if opts.PrintOutput {
		fmt.Fprintf(os.Stdout, "pathtrace to %s (%s) over %s, %d hops max\n", target, dest, fromCoreFamily(family), opts.MaxHops)
		adapters.Render(ctx, os.Stdout, coreTrace)
	}

	if !reached {
		return result, ErrMaxHopsExceeded
	}
	return result, nil
}
