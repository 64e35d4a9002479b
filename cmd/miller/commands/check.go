package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand(a *app) *cobra.Command {
	var plan planOptions

	cmd := &cobra.Command{
		Use:   "check [FILE...]",
		Short: "Validate Millfiles and print the combined Millfile",
		Long: `Parse the Millfiles, validate the target graph and print the combined
Millfile with the skip, start and force sets. Nothing is looked up remotely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.loadPlan(ctx, args, &plan)
			if err != nil {
				return err
			}
			if _, err := a.order(ctx, p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.String())
			return nil
		},
	}

	plan.addFlags(cmd)
	return cmd
}
