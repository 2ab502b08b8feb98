package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vm-server/agent-installer/internal/installer"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the installed agent and its install receipt",
		Args:  cobra.NoArgs,
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

			st, err := inst.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *installer.Status) {
	if !st.Installed {
		fmt.Fprintf(w, "Agent: not installed (%s)\n", st.BinaryPath)
	} else {
		fmt.Fprintf(w, "Agent: %s\n", st.BinaryPath)
		if st.VersionError != nil {
			fmt.Fprintf(w, "  version:      unknown (%v)\n", st.VersionError)
		} else {
			fmt.Fprintf(w, "  version:      %s\n", st.Version)
		}
	}

	r := st.Receipt
	if r == nil {
		fmt.Fprintln(w, "Receipt: none")
		return
	}

	fmt.Fprintf(w, "Receipt: %s\n", r.ID)
	fmt.Fprintf(w, "  release:      %s (%s)\n", r.Version, r.Platform)
	fmt.Fprintf(w, "  installed at: %s\n", r.InstalledAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  sha256:       %s\n", r.SHA256)
	fmt.Fprintf(w, "  verification: %s\n", r.Verification)
	if r.Hostname != "" {
		fmt.Fprintf(w, "  host:         %s\n", r.Hostname)
	}
	if r.Registered {
		fmt.Fprintf(w, "  registered:   %s\n", r.ServerURL)
	} else {
		fmt.Fprintln(w, "  registered:   no")
	}
	if r.PID > 0 {
		fmt.Fprintf(w, "  started pid:  %d\n", r.PID)
	}
}
