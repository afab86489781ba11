package main

import (
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// rootOptions holds the global flags every command shares.
type rootOptions struct {
	ConfigPath string
	DataDir    string
	JSON       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ire",
		Short:         "Intake routing engine",
		Long:          "Deterministic, fail-closed routing of insurance intake email.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config/ire.yaml", "config snapshot path")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "data", "data directory (database, blobs, audit log)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "machine-readable output")

	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newProcessCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newVerifyAuditCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newCheckRegistryCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}
