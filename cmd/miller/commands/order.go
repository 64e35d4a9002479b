package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newOrderCommand(a *app) *cobra.Command {
	var (
		plan    planOptions
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "order [FILE...]",
		Short: "Print the build order without looking at artifacts",
		Long: `Compute the build order of the selected targets and print it, one batch of
mutually independent targets per line. No remote calls are made: every
target is listed as if it had to be built.`,
		Example: `  # Print the batches of the standard chain
  miller order

  # Render the dependency graph with Graphviz
  miller order --dot millfile.dot && dot -Tsvg millfile.dot > millfile.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.loadPlan(ctx, args, &plan)
			if err != nil {
				return err
			}
			order, err := a.order(ctx, p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, batch := range order {
				fmt.Fprintln(out, strings.Join(batch, " "))
			}
			a.tel.Metrics.RecordPlan("order", len(flatten(order)), 0, len(order))

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(p.ToDOT(order)), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT file: %w", err)
				}
				a.tel.Logger.Infof("dependency graph written to %s", dotFile)
			}
			return nil
		},
	}

	plan.addFlags(cmd)
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in Graphviz DOT format to this file")
	return cmd
}
