package adapters

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// Render writes tr in the traditional traceroute console shape: one line
// per hop, "<ttl>  <name> (<addr>) <t1>ms  <t2>ms …"
// per unique source address, continuation lines for additional addresses
// at the same TTL indented by three spaces, and a run of `*` for a timed
// out hop (one per retry consumed).
func Render(ctx context.Context, w io.Writer, tr core.Trace) {
	for _, hop := range tr {
		switch hop.Status {
		case core.HopTimeout:
			fmt.Fprintf(w, "%-3d  %s\n", hop.TTL, strings.Repeat("* ", hop.Retries))
		case core.HopError:
			fmt.Fprintf(w, "%-3d  %s\n", hop.TTL, hop.Err)
		default:
			renderProbeLine(ctx, w, hop)
		}
	}
}

// renderProbeLine groups hop.Probes by source address, preserving the
// order each address first appeared in, and prints one line per address.
func renderProbeLine(ctx context.Context, w io.Writer, hop core.HopResult) {
	order := make([]string, 0, len(hop.Probes))
	byAddr := make(map[string][]core.ProbeResult)
	for _, p := range hop.Probes {
		key := "*"
		if p.Peer != nil {
			key = p.Peer.String()
		}
		if _, ok := byAddr[key]; !ok {
			order = append(order, key)
		}
		byAddr[key] = append(byAddr[key], p)
	}

	for i, addr := range order {
		prefix := fmt.Sprintf("%-3d  ", hop.TTL)
		if i > 0 {
			prefix = "   "
		}
		fmt.Fprintf(w, "%s%s\n", prefix, formatAddrLine(ctx, addr, byAddr[addr]))
	}
}

func formatAddrLine(ctx context.Context, addr string, probes []core.ProbeResult) string {
	var b strings.Builder
	if addr == "*" {
		b.WriteString("*")
	} else {
		name := ReverseLookup(ctx, net.ParseIP(addr))
		fmt.Fprintf(&b, "%s (%s)", name, addr)
	}
	for _, p := range probes {
		fmt.Fprintf(&b, "  %.3fms", p.Elapsed.Seconds()*1000)
	}
	return b.String()
}
