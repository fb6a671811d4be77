// Command pathtrace traces the network path to a host, printing the
// traditional per-hop report or a Graphviz digraph of the discovered
// topology.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dnaeon/go-pathtrace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		kind         string
		family       string
		maxHops      int
		maxRetries   int
		timeout      time.Duration
		probesPerHop int
		minTTL       int
		quiet        bool
		verbose      bool
		dot          bool
	)

	cmd := &cobra.Command{
		Use:   "pathtrace <host>",
		Short: "Discover the network path to a host by probing with limited hop counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}

			opts := pathtrace.DefaultOptions()
			opts.Kind = pathtrace.Kind(kind)
			opts.Family = pathtrace.Family(family)
			opts.MaxHops = maxHops
			opts.MaxRetries = maxRetries
			opts.Timeout = timeout
			opts.ProbesPerHop = probesPerHop
			opts.MinTTL = minTTL
			// --dot renders its own Graphviz output from the returned
			// Trace instead of Run's plain-text stdout rendering.
			opts.PrintOutput = !quiet && !dot

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			result, err := pathtrace.Run(ctx, args[0], opts)
			if err != nil && !errors.Is(err, pathtrace.ErrMaxHopsExceeded) {
				return fmt.Errorf("pathtrace: %w", err)
			}
			if dot {
				pathtrace.RenderDot(cmd.OutOrStdout(), result.Trace)
			}
			if errors.Is(err, pathtrace.ErrMaxHopsExceeded) {
				fmt.Fprintf(cmd.ErrOrStderr(), "pathtrace: %s not reached within %d hops\n", result.Target, opts.MaxHops)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(pathtrace.KindDatagram), "probe flavor: echo, datagram, or stream")
	cmd.Flags().StringVar(&family, "family", string(pathtrace.FamilyV4), "address family: v4 or v6 (ignored for a numeric target)")
	cmd.Flags().IntVar(&maxHops, "max-hops", 20, "upper hop bound")
	cmd.Flags().IntVar(&maxRetries, "retries", 3, "per-hop retry count on total timeout")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "per-probe wait")
	cmd.Flags().IntVar(&probesPerHop, "probes", 3, "parallel probes per hop")
	cmd.Flags().IntVar(&minTTL, "min-ttl", 1, "starting TTL")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the human-readable trace")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	cmd.Flags().BoolVar(&dot, "dot", false, "render the trace as a Graphviz digraph instead of plain text")

	return cmd
}
