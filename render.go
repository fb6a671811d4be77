package pathtrace

import (
	"context"
	"io"

	"github.com/dnaeon/go-pathtrace/adapters"
)

// RenderText writes tr in the traditional traceroute console shape, the
// same rendering Run itself uses when Options.PrintOutput is set.
func RenderText(ctx context.Context, w io.Writer, tr Trace) {
	adapters.Render(ctx, w, tr.toCore())
}

// RenderDot writes tr as a Graphviz digraph, one node per unique hop
// address.
func RenderDot(w io.Writer, tr Trace) {
	adapters.RenderDot(w, tr.toCore())
}
