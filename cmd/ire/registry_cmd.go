package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/schema"
)

func newCheckRegistryCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-registry",
		Short: "Verify canonical vocabulary and schema registry agreement",
		Long: `Check the canonical vocabulary for internal consistency and cross-check
it against the enums embedded in the artifact schemas. Drift between
the two means artifacts could validate against values the code does
not know, so it exits 60.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := canonical.Verify(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "vocabulary:", err)
				return &exitError{Code: fault.ExitIntegrity}
			}
			registry, err := schema.NewRegistry()
			if err != nil {
				return err
			}
			if err := schema.CrossCheck(registry); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "schema drift:", err)
				return &exitError{Code: fault.ExitIntegrity}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "registry consistent")
			return nil
		},
	}
	return cmd
}
