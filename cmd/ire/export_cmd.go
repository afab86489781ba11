package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/audit"
)

// envAuditSeed, when set, derives a stable signing key so exported
// bundles from the same deployment verify against one public key.
const envAuditSeed = "IRE_AUDIT_SEED"

type exportOptions struct {
	*rootOptions
	MessageID string
	RunID     string
	Out       string
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &exportOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one audit chain as a signed evidence bundle",
		Long: `Package the audit chain of a run into a zip holding the events, a
manifest and an ed25519 signature. The export refuses chains that do
not verify.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MessageID, "message", "", "message id (required)")
	_ = cmd.MarkFlagRequired("message")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (defaults to the recorded run)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output path (default <message>.audit.zip)")

	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	runID := opts.RunID
	if runID == "" {
		ing, err := rt.jobs.IngestLookup(ctx, opts.MessageID)
		if err != nil {
			return err
		}
		if ing == nil {
			return fmt.Errorf("message %s unknown in this data directory", opts.MessageID)
		}
		runID = ing.RunID
	}

	keys, err := buildKeyProvider()
	if err != nil {
		return err
	}
	bundle, checksum, err := audit.NewExporter(rt.auditLog, keys).Bundle(ctx, opts.MessageID, runID)
	if err != nil {
		return err
	}

	out := opts.Out
	if out == "" {
		out = opts.MessageID + ".audit.zip"
	}
	if err := os.WriteFile(out, bundle, 0o640); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, checksum)
	return nil
}

func buildKeyProvider() (audit.KeyProvider, error) {
	if seed := os.Getenv(envAuditSeed); seed != "" {
		return audit.DeriveKeyProvider([]byte(seed), "audit-export")
	}
	return audit.NewMemoryKeyProvider()
}
