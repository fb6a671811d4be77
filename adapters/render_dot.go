package adapters

import (
	"fmt"
	"io"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// RenderDot writes tr as a Graphviz digraph, one node per unique hop
// address and one edge between every address pair at consecutive TTLs.
func RenderDot(w io.Writer, tr core.Trace) {
	fmt.Fprintln(w, "digraph {")
	fmt.Fprintln(w, `	node [color=lightblue fillcolor=lightblue fontcolor=black shape=record style="filled, rounded"]`)

	if len(tr) == 1 {
		for _, addr := range uniqueAddrs(tr[0]) {
			writeDotNode(w, addr)
		}
	}
	for i := 1; i < len(tr); i++ {
		prev := uniqueAddrs(tr[i-1])
		curr := uniqueAddrs(tr[i])
		for _, p := range prev {
			writeDotNode(w, p)
			for _, c := range curr {
				writeDotNode(w, c)
				fmt.Fprintf(w, "\t%q -> %q\n", p, c)
			}
		}
	}
	fmt.Fprintln(w, "}")
}

func writeDotNode(w io.Writer, addr string) {
	fmt.Fprintf(w, "\t%q [label=%q]\n", addr, addr)
}

// uniqueAddrs returns the distinct source addresses among hop.Probes,
// rendering a probe with no peer (timeout) as "*".
func uniqueAddrs(hop core.HopResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range hop.Probes {
		addr := "*"
		if p.Peer != nil {
			addr = p.Peer.String()
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
