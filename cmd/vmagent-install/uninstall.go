package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vm-server/agent-installer/internal/installer"
)

func newUninstallCmd(opts *globalOptions) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the agent binary",
		Long: `Remove the agent binary and the install receipt. A running agent is
not stopped. With --purge the configuration directory is removed as well,
which discards the agent's registration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, flush, err := loadSettings(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer flush()

			inst, err := installer.New(s, installer.WithLogger(logger), installer.WithUserAgent(userAgent()))
			if err != nil {
				return err
			}
			if err := inst.Uninstall(cmd.Context(), purge); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.InstallPath)
			if purge {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.ConfigDir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "also remove the configuration directory")
	return cmd
}
