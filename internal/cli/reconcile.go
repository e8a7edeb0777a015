package cli

import (
	"fmt"

	"github.com/docshare/linkdrive/internal/client"
	"github.com/docshare/linkdrive/internal/output"
	"github.com/spf13/cobra"
)

func newReconcileCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List divergences between the store and the index",
		Long: `List operations whose rollback failed and left the store and the index
out of step. Repair each one by hand, then mark it resolved.

  linkdrive reconcile
  linkdrive reconcile resolve <task-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp client.Response[[]client.ReconciliationTask]
			if err := a.client.Get(cmd.Context(), "/reconciliation", nil, &resp); err != nil {
				return fmt.Errorf("listing reconciliation tasks: %w", err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			output.TaskTable(cmd.OutOrStdout(), resp.Data)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <task-id>",
		Short: "Mark a reconciliation task as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Put(cmd.Context(), "/reconciliation/"+args[0]+"/resolve", nil, nil); err != nil {
				return fmt.Errorf("resolving %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved: %s\n", args[0])
			return nil
		},
	})
	return cmd
}
