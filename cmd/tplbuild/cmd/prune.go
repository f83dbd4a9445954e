package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// pruneCmd is a stub: registry.Client already exposes DeleteRef for the
// prune use-case (§6), but deciding which refs are safe to delete
// requires a retention policy this project does not define yet.
var pruneCmd = &cobra.Command{
	Use:           "prune",
	Short:         "Delete unreferenced image refs from the registry (not yet implemented)",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("tplbuild prune: not yet implemented")
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
