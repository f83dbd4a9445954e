package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/msg555/tplbuild/internal/coordinator"
)

var resolveOpts = &profilePlatformOptions{}
var resolveForceUpdate bool

var resolveCmd = &cobra.Command{
	Use:           "resolve",
	Short:         "Render and resolve a project, persisting the updated build-data cache",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runResolve(cmd), "tplbuild resolve")
	},
}

func init() {
	addProfilePlatformFlags(resolveCmd, resolveOpts)
	resolveCmd.Flags().BoolVar(&resolveForceUpdate, "force-update", false, "re-resolve source image digests even if cached")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	profile, platform := resolveProfilePlatform(a, resolveOpts)
	ctx := cmd.Context()

	stages, err := a.Coordinator.Render(ctx, profile, platform)
	if err != nil {
		return errors.Wrap(err, "rendering")
	}

	if err := a.Coordinator.Resolve(ctx, stages, coordinator.ResolveOptions{ForceUpdateSources: resolveForceUpdate}); err != nil {
		return errors.Wrap(err, "resolving")
	}

	// Resolve persists every resolved digest to the build-data store as
	// it goes (Store.SetSource/SetBase each save), so there is nothing
	// left to flush here.
	return nil
}
