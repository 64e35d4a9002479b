package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/burrmill/miller/pkg/telemetry"
)

func newGatherCommand(a *app) *cobra.Command {
	var (
		plan   planOptions
		remote remoteOptions
	)

	cmd := &cobra.Command{
		Use:   "gather [FILE...]",
		Short: "Print the locations of all built artifacts",
		Long: `Check that the artifacts of all selected targets exist and print their
locations, one "NAME VERSION LOCATOR" line per target, for assembling the
software disk. Builders produce no deployable artifact and are not listed.

Every missing artifact is reported before the command fails.`,
		Example: `  # Collect the artifacts of the standard chain
  miller gather

  # Collect kaldi and its dependencies only
  miller gather --targets=kaldi`,
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
			opts, err := a.locatorOptions(&remote)
			if err != nil {
				return err
			}
			locs, closeLocs := a.newLocators(opts, a.tel)
			defer closeLocs()

			op := telemetry.StartOperation(ctx, "plan.gather")
			lines, err := p.ConstructGather(op.Ctx, locs, order)
			op.End(err)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, l := range lines {
				fmt.Fprintln(out, l)
			}
			a.tel.Metrics.RecordPlan("gather", len(flatten(order)), 0, 0)
			return nil
		},
	}

	plan.addFlags(cmd)
	remote.addFlags(cmd)
	return cmd
}
