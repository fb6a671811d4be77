// Package adapters holds the boundary collaborators kept out of the
// engine itself: hostname resolution, reverse lookup, and console
// rendering.
package adapters

import (
	"context"
	"fmt"
	"net"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// ResolveTarget turns a hostname or numeric address into a concrete IP
// plus the family to probe over. A numeric target skips resolution and
// picks its own family; preferred only steers which family a hostname
// resolves to.
func ResolveTarget(ctx context.Context, target string, preferred core.Family) (net.IP, core.Family, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, familyOf(ip), nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, network(preferred), target)
	if err != nil || len(ips) == 0 {
		// The preferred family may simply have no records for this host;
		// fall back to whichever family resolves before giving up.
		var fallbackErr error
		ips, fallbackErr = net.DefaultResolver.LookupIP(ctx, "ip", target)
		if fallbackErr != nil || len(ips) == 0 {
			if err == nil {
				err = fallbackErr
			}
			return nil, 0, fmt.Errorf("%w: %v", core.ErrResolutionFailed, err)
		}
	}
	ip := ips[0]
	return ip, familyOf(ip), nil
}

func network(family core.Family) string {
	if family == core.FamilyV6 {
		return "ip6"
	}
	return "ip4"
}

func familyOf(ip net.IP) core.Family {
	if ip.To4() == nil {
		return core.FamilyV6
	}
	return core.FamilyV4
}

// ReverseLookup renders a human name for addr, falling back to the numeric
// form on failure.
func ReverseLookup(ctx context.Context, addr net.IP) string {
	if addr == nil {
		return "*"
	}
	names, err := net.DefaultResolver.LookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return addr.String()
	}
	return names[0]
}
