package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/msg555/tplbuild/internal/coordinator"
)

var planOpts = &profilePlatformOptions{}

var planCmd = &cobra.Command{
	Use:           "plan",
	Short:         "Render, resolve, and print the build operations without building",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runPlan(cmd), "tplbuild plan")
	},
}

func init() {
	addProfilePlatformFlags(planCmd, planOpts)
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	profile, platform := resolveProfilePlatform(a, planOpts)
	ctx := cmd.Context()

	stages, err := a.Coordinator.Render(ctx, profile, platform)
	if err != nil {
		return errors.Wrap(err, "rendering")
	}

	if err := a.Coordinator.Resolve(ctx, stages, coordinator.ResolveOptions{CheckOnly: true}); err != nil {
		return errors.Wrap(err, "resolving")
	}

	ops, err := a.Coordinator.Plan(stages)
	if err != nil {
		return errors.Wrap(err, "planning")
	}

	for i, op := range ops {
		var names []string
		for _, s := range op.Stages {
			names = append(names, s.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d: stages=%v depends_on=%d\n", i, names, len(op.Dependencies))
	}
	return nil
}
