package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/burrmill/miller/pkg/engine"
	"github.com/burrmill/miller/pkg/telemetry"
)

func newBuildCommand(a *app) *cobra.Command {
	var (
		plan   planOptions
		remote remoteOptions
	)

	cmd := &cobra.Command{
		Use:   "build [FILE...]",
		Short: "Print the targets that must be rebuilt",
		Long: `Examine the state of all build targets and print those that must be rebuilt.

With no arguments, examine all targets defined by the lib/build/Millfile and,
if present, the overrides added by the user in etc/build/Millfile. A target is
rebuilt if its artifact at the desired version is absent, or if it is forced.

The output is a sequence of "build NAME VERSION [VAR=VALUE...]" lines. Each
batch of independent targets is terminated by a "wait" line.`,
		Example: `  # Examine all targets of the standard chain
  miller build

  # Rebuild the unversioned cxx builder without its dependencies
  miller build --force=cxx

  # Build kaldi and everything it depends on
  miller build --targets=kaldi

  # Use a custom Millfile only
  miller build -m ./Millfile --gs-software=gs://my-software --gs-location=us`,
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

			op := telemetry.StartOperation(ctx, "plan.build")
			batches, err := p.ConstructBuild(op.Ctx, locs, order)
			op.End(err)

			// Batches decided before a remote failure still stand. Nothing
			// is printed for an inconsistent plan.
			if err != nil && !engine.IsRemote(err) {
				return err
			}
			dirty := 0
			out := cmd.OutOrStdout()
			for _, batch := range batches {
				for _, spec := range batch {
					fmt.Fprintln(out, spec)
				}
				fmt.Fprintln(out, "wait")
				dirty += len(batch)
			}
			a.tel.Metrics.RecordPlan("build", len(flatten(order)), dirty, len(batches))
			if err != nil {
				return err
			}

			if len(batches) == 0 {
				op.Logger.Infof("examined build targets %v are all up-to-date", flatten(order))
			}
			return nil
		},
	}

	plan.addFlags(cmd)
	remote.addFlags(cmd)
	return cmd
}
