package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/hitl"
	"github.com/intake-labs/ire/pkg/orchestrator"
	"github.com/intake-labs/ire/pkg/store"
)

type replayOptions struct {
	*rootOptions
	MessageID string
	RunID     string
}

func newReplayCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a recorded chain and verify its decision hashes",
		Long: `Re-execute a recorded run against scratch stores sharing the recorded
content blobs, then compare the decision hash of every decision stage.

Exit codes:
  0  - every stage reproduced its recorded hash
  30 - decision hashes diverged
  20 - run unknown in this data directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MessageID, "message", "", "message id (required)")
	_ = cmd.MarkFlagRequired("message")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (defaults to the recorded run of the message)")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *replayOptions) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	ing, err := rt.jobs.IngestLookup(ctx, opts.MessageID)
	if err != nil {
		return err
	}
	if ing == nil {
		return &exitError{Code: fault.ExitSchemaValidation, Message: "message unknown in this data directory"}
	}
	runID := opts.RunID
	if runID == "" {
		runID = ing.RunID
	}

	// The fresh pipeline shares the blob store so the raw MIME bytes
	// resolve, but writes jobs and artifacts to scratch stores.
	scratch, err := store.Open(":memory:")
	if err != nil {
		return err
	}
	defer scratch.Close()

	fresh := *rt.pipeline
	fresh.Artifacts = store.NewArtifactStore(scratch, rt.blobs, rt.registry)
	fresh.Jobs = store.NewJobStore(scratch)
	fresh.Reviews = hitl.NewReviewStore(scratch)
	fresh.Audit = audit.NewMemoryLog()

	replayer := &orchestrator.Replayer{
		Recorded: rt.artifacts,
		Fresh:    &fresh,
		Audit:    rt.auditLog,
	}
	report, err := replayer.Replay(ctx, orchestrator.Job{
		MessageID: opts.MessageID,
		RunID:     runID,
		RawSHA256: ing.RawSHA256,
		Source:    "replay",
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if report.Match {
		fmt.Fprintf(w, "replay of %s reproduced every decision hash\n", opts.MessageID)
	} else {
		fmt.Fprintf(w, "replay of %s diverged:\n", opts.MessageID)
		for _, m := range report.Mismatches {
			fmt.Fprintf(w, "  %-10s recorded %s replayed %s\n", m.Stage, m.Recorded, m.Replayed)
		}
	}

	if !report.Match {
		return &exitError{Code: fault.ExitFailClosedRequired}
	}
	return nil
}
