package cmd

import (
	"github.com/spf13/cobra"
)

// profilePlatformOptions are the flags shared by build/plan/resolve:
// which (profile, platform) pair to render and drive through the
// pipeline. Platform defaults to the project config's first configured
// platform when unset.
type profilePlatformOptions struct {
	Profile  string
	Platform string
}

func addProfilePlatformFlags(c *cobra.Command, opts *profilePlatformOptions) {
	c.Flags().StringVar(&opts.Profile, "profile", "", "profile to render (defaults to the project's default_profile)")
	c.Flags().StringVar(&opts.Platform, "platform", "", "platform to render (defaults to the project's first configured platform)")
}

func resolveProfilePlatform(a *app, opts *profilePlatformOptions) (profile, platform string) {
	profile = opts.Profile
	if profile == "" {
		profile = a.TplConfig.ResolvedDefaultProfile()
	}
	platform = opts.Platform
	if platform == "" && len(a.TplConfig.Platforms) > 0 {
		platform = a.TplConfig.Platforms[0]
	}
	return profile, platform
}
