/*-------------------------------------------------------------------------
 *
 * approvals.go
 *    Approval commands for grow-cli
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cli/cmd/approvals.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rakshittt/grow/internal/app"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/spf13/cobra"
)

var (
	approvalsCmd = &cobra.Command{
		Use:   "approvals",
		Short: "List approvals for an agency",
		Args:  cobra.NoArgs,
		RunE:  listApprovals,
	}

	approveCmd = &cobra.Command{
		Use:   "approve [approval-id]",
		Short: "Approve a pending approval and continue its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, args[0], approval.DecisionApprove)
		},
	}

	denyCmd = &cobra.Command{
		Use:   "deny [approval-id]",
		Short: "Deny a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, args[0], approval.DecisionDeny)
		},
	}

	actorID      string
	reason       string
	statusFilter string
	limit        int
)

func init() {
	for _, c := range []*cobra.Command{approvalsCmd, approveCmd, denyCmd} {
		c.Flags().StringVar(&agencyID, "agency", "", "Agency that owns the approval (required)")
	}
	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		c.Flags().StringVar(&actorID, "actor", "", "Who is resolving the approval (required)")
		c.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")
		c.MarkFlagRequired("actor")
	}
	approvalsCmd.Flags().StringVar(&statusFilter, "status", "pending", "Filter by status (pending, approved, denied, cancelled, executed, failed, all)")
	approvalsCmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of approvals to list")
}

func resolve(cmd *cobra.Command, rawID string, decision approval.Decision) error {
	tenantID, err := agency()
	if err != nil {
		return err
	}
	recordID, err := parseUUID("approval id", rawID)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Service.ResolveApproval(ctx, tenantID, recordID, decision, actorID, reason)
		if err != nil {
			return fmt.Errorf("failed to %s approval %s: %w", decision, recordID, err)
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) {
			fmt.Fprintf(w, "Approval %s is now %s\n", res.RecordID, res.Status)
			if res.Message != "" {
				fmt.Fprintln(w, res.Message)
			}
		})
	})
}

func listApprovals(cmd *cobra.Command, args []string) error {
	tenantID, err := agency()
	if err != nil {
		return err
	}
	filter := approval.Filter{AgencyID: tenantID, Limit: limit}
	if s := statusArg(statusFilter); s != "" {
		filter.Status = &s
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		records, err := a.Approvals.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}
		return render(cmd.OutOrStdout(), records, func(w io.Writer) { printApprovals(w, records) })
	})
}

/* statusArg maps the short "pending" alias onto the stored status; "all" disables the filter */
func statusArg(s string) string {
	switch s {
	case "", "all":
		return ""
	case "pending":
		return approval.StatusPending
	}
	return s
}

func printApprovals(w io.Writer, records []approval.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No approvals found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tEXPIRES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.AgentType, r.Status, r.ExpiresAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
