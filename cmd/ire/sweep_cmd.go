package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/retention"
)

func newSweepCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Purge raw message material past its retention window",
		Long: `Delete the raw MIME bytes, attachment bytes and extracted text of every
message older than the configured retention window. Artifacts, job rows
and audit chains are kept; messages with an open review item are
skipped until the reviewer is done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			sweeper := &retention.Sweeper{
				Snapshot:  rt.snapshot,
				Jobs:      rt.jobs,
				Artifacts: rt.artifacts,
				Blobs:     rt.blobs,
				Reviews:   rt.reviews,
				Audit:     rt.auditLog,
			}
			report, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if rootOpts.JSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(w, "scanned %d, purged %d (%d blobs), %d kept for open review\n",
				report.Scanned, report.Purged, report.BlobsDeleted, report.SkippedOpen)
			return nil
		},
	}
	return cmd
}

func newVersionCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), rootOpts)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "ire %s\n", version)
				return nil
			}
			defer rt.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "ire %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "spec %s, rules %s, ruleset %s\n",
				rt.snapshot.Pack.CanonicalSpecSemver,
				rt.snapshot.Classify.RulesVersion,
				rt.snapshot.Routing.RulesetVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "config %s\n", rt.snapshot.Ref().SHA256)
			return nil
		},
	}
}
