package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "newsharvest",
		Short:         "Collect articles from a paginated content site",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./newsharvest.yaml if present)")

	root.AddCommand(newRunCmd(&cfgFile))
	root.AddCommand(newTopicsCmd(&cfgFile))
	root.AddCommand(newRecordsCmd(&cfgFile))

	return root
}
