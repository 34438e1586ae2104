// Package cli implements the storefront command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const cliName = "storefront"

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           cliName,
		Short:         "storefront runs the storefront backing-service connection managers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML configuration file (environment variables override it)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newCheckCommand(&configPath))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cliName, err)
		os.Exit(1)
	}
}
