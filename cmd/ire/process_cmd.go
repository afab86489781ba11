package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/ingest"
	"github.com/intake-labs/ire/pkg/orchestrator"
)

type processOptions struct {
	*rootOptions
	EML string
}

func newProcessCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &processOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one message through the full chain",
		Long: `Ingest a single .eml file, run the decision chain to completion, and
print the routing decision. Redelivering the same file reproduces the
recorded decision instead of recomputing it.

Exit codes follow the fault taxonomy: 0 on a completed chain (including
fail-closed routing, which is a decision, not an error).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.EML, "eml", "", "path to the RFC 5322 message (required)")
	_ = cmd.MarkFlagRequired("eml")

	return cmd
}

func runProcess(cmd *cobra.Command, opts *processOptions) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	raw, err := os.ReadFile(opts.EML)
	if err != nil {
		return err
	}

	job, duplicate, err := rt.pipeline.Ingest(ctx, &ingest.RawMessage{
		SourceMessageID: filepath.Base(opts.EML),
		Source:          "cli",
		RawMIME:         raw,
	})
	if err != nil {
		return err
	}

	res, err := rt.pipeline.Run(ctx, job)
	if err != nil {
		return err
	}

	return printChainResult(cmd, opts.rootOptions, res, duplicate)
}

func printChainResult(cmd *cobra.Command, opts *rootOptions, res *orchestrator.ChainResult, duplicate bool) error {
	w := cmd.OutOrStdout()

	if opts.JSON {
		out := struct {
			MessageID string `json:"message_id"`
			RunID     string `json:"run_id"`
			Duplicate bool   `json:"duplicate"`
			Decision  any    `json:"decision,omitempty"`
			CaseID    string `json:"case_id,omitempty"`
			Blocked   bool   `json:"case_blocked,omitempty"`
		}{
			MessageID: res.MessageID,
			RunID:     res.RunID,
			Duplicate: duplicate,
			Decision:  res.Decision,
		}
		if res.Case != nil {
			out.CaseID = res.Case.CaseID
			out.Blocked = res.Case.Blocked
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "message %s run %s\n", res.MessageID, res.RunID)
	if duplicate {
		fmt.Fprintln(w, "redelivery: reproduced recorded decision")
	}
	if res.Decision != nil {
		fmt.Fprintf(w, "queue    %s\n", res.Decision.QueueID)
		fmt.Fprintf(w, "rule     %s (priority %d)\n", res.Decision.RuleID, res.Decision.Priority)
		fmt.Fprintf(w, "sla      %s\n", res.Decision.SLAID)
		fmt.Fprintf(w, "actions  %v\n", res.Decision.Actions)
		if res.Decision.FailClosed && res.Decision.FailClosedReason != nil {
			fmt.Fprintf(w, "fail-closed: %s\n", *res.Decision.FailClosedReason)
		}
		fmt.Fprintf(w, "hash     %s\n", res.Decision.DecisionHash)
	}
	if res.Case != nil {
		switch {
		case res.Case.Blocked:
			fmt.Fprintln(w, "case     blocked by policy")
		case res.Case.CaseID != "":
			fmt.Fprintf(w, "case     %s\n", res.Case.CaseID)
		default:
			fmt.Fprintln(w, "case     dead-lettered to failure review")
		}
	}
	return nil
}
