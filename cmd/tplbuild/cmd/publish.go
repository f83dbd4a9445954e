package cmd

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/msg555/tplbuild/internal/coordinator"
)

// publishOptions carries the flags for the publish command: which
// profile to build and which platforms to assemble a manifest list
// across. Translates cmd/publish.py's --profile/--platform flags.
type publishOptions struct {
	Profile   string
	Platforms []string
}

var publishOpts = &publishOptions{}

var publishCmd = &cobra.Command{
	Use:   "publish [stage[=target]...]",
	Short: "Build and publish top-level images across every configured platform",
	Long: `publish renders and resolves a profile once per configured platform,
wraps every stage's image in a manifest-list-producing aggregator, and
builds and pushes every stage that carries push names (or, if named
explicitly, only those stages).

A positional argument of the form stage=target overrides the push name
for that stage; stage= pushes it under its own stage name.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(runPublish(cmd, args), "tplbuild publish")
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishOpts.Profile, "profile", "", "profile to build (defaults to the project's default_profile)")
	publishCmd.Flags().StringArrayVar(&publishOpts.Platforms, "platform", nil, "platform to build images for; repeatable (defaults to every configured platform)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	profile := publishOpts.Profile
	if profile == "" {
		profile = a.TplConfig.ResolvedDefaultProfile()
	}
	platforms := publishOpts.Platforms
	if len(platforms) == 0 {
		platforms = a.TplConfig.Platforms
	}

	ctx := cmd.Context()

	stages, err := a.Coordinator.RenderMultiPlatform(ctx, profile, platforms, coordinator.ResolveOptions{})
	if err != nil {
		return errors.Wrap(err, "rendering")
	}

	imagesToBuild := map[string]bool{}
	for _, arg := range args {
		name, target, hasTarget := strings.Cut(arg, "=")
		imagesToBuild[name] = true
		s, ok := stages[name]
		if !ok {
			return errors.Errorf("unknown build stage %q", name)
		}
		if hasTarget {
			if target == "" {
				target = name
			}
			s.PushNames = []string{target}
		}
	}

	// Only explicitly build stages that carry push names; anything else
	// needed is pulled in implicitly by the build graph.
	toBuild := map[string]*coordinator.RenderedStage{}
	for name, s := range stages {
		if len(s.PushNames) == 0 {
			continue
		}
		if len(imagesToBuild) > 0 && !imagesToBuild[name] {
			continue
		}
		toBuild[name] = s
	}

	ops, err := a.Coordinator.Plan(toBuild)
	if err != nil {
		return errors.Wrap(err, "planning")
	}

	return errors.Wrap(a.Coordinator.Build(ctx, ops), "building")
}
