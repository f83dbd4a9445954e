package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/msg555/tplbuild/internal/coordinator"
)

var buildOpts = &profilePlatformOptions{}
var buildForceUpdate bool

var buildCmd = &cobra.Command{
	Use:           "build",
	Short:         "Render, resolve, plan, and build a project's images",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runBuild(cmd), "tplbuild build")
	},
}

func init() {
	addProfilePlatformFlags(buildCmd, buildOpts)
	buildCmd.Flags().BoolVar(&buildForceUpdate, "force-update", false, "re-resolve source image digests even if cached")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	profile, platform := resolveProfilePlatform(a, buildOpts)
	ctx := cmd.Context()

	stages, err := a.Coordinator.Render(ctx, profile, platform)
	if err != nil {
		return errors.Wrap(err, "rendering")
	}

	if err := a.Coordinator.Resolve(ctx, stages, coordinator.ResolveOptions{ForceUpdateSources: buildForceUpdate}); err != nil {
		return errors.Wrap(err, "resolving")
	}

	ops, err := a.Coordinator.Plan(stages)
	if err != nil {
		return errors.Wrap(err, "planning")
	}

	if err := a.Coordinator.Build(ctx, ops); err != nil {
		return errors.Wrap(err, "building")
	}
	return nil
}
