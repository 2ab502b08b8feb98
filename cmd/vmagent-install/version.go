package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vmagent-install %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print the version number only")
	return cmd
}

// userAgent identifies the installer to the release index.
func userAgent() string {
	return "vmagent-install/" + version
}
