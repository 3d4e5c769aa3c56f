/*-------------------------------------------------------------------------
 *
 * pipeline.go
 *    Pipeline commands for grow-cli: run, tick, sweep and run inspection
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cli/cmd/pipeline.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/app"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [optimizer|spy] [rule-or-tracker-id]",
		Short: "Run one pipeline pass for a rule or tracker now",
		Args:  cobra.ExactArgs(2),
		RunE:  runPipeline,
	}

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Dispatch every due rule and tracker once",
		Args:  cobra.NoArgs,
		RunE:  runTick,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale approvals and continue their runs",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}

	showRunCmd = &cobra.Command{
		Use:   "show-run [run-id]",
		Short: "Show a run checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
)

func init() {
	runCmd.Flags().StringVar(&agencyID, "agency", "", "Agency that owns the rule or tracker (required)")
	showRunCmd.Flags().StringVar(&agencyID, "agency", "", "Agency that owns the run (required)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	kind, err := agents.ParseKind(args[0])
	if err != nil {
		return err
	}
	tenantID, err := agency()
	if err != nil {
		return err
	}
	subjectID, err := parseUUID(string(kind)+" subject id", args[1])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		_, summary, err := a.Service.StartRun(ctx, kind, tenantID, subjectID)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return render(cmd.OutOrStdout(), summary, func(w io.Writer) { printSummary(w, summary) })
	})
}

func runTick(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		results := a.Scheduler().Tick(ctx)
		byKind := make(map[string]agents.BatchResult, len(results))
		for k, v := range results {
			byKind[string(k)] = v
		}
		return render(cmd.OutOrStdout(), byKind, func(w io.Writer) { printBatches(w, byKind) })
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		expired := a.Sweeper().Sweep(ctx)
		return render(cmd.OutOrStdout(), map[string]int{"expired": expired}, func(w io.Writer) {
			fmt.Fprintf(w, "Expired %d approval(s)\n", expired)
		})
	})
}

func showRun(cmd *cobra.Command, args []string) error {
	tenantID, err := agency()
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		info, err := a.Service.Run(ctx, tenantID, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), info, func(w io.Writer) {
			fmt.Fprintf(w, "Run:       %s\n", info.RunID)
			fmt.Fprintf(w, "Pipeline:  %s\n", info.Pipeline)
			fmt.Fprintf(w, "Status:    %s\n", info.Status)
			if info.NextStep != "" {
				fmt.Fprintf(w, "Next step: %s\n", info.NextStep)
			}
			if info.Error != "" {
				fmt.Fprintf(w, "Error:     %s\n", info.Error)
			}
			fmt.Fprintf(w, "Updated:   %s\n", info.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
		})
	})
}

func printSummary(w io.Writer, s *agents.RunSummary) {
	fmt.Fprintf(w, "Run:      %s (%s)\n", s.RunID, s.Kind)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	if s.Kind == agents.KindOptimizer {
		fmt.Fprintf(w, "Actions:  %d proposed, %d safe, %d executed, %d skipped\n", s.Proposed, s.Safe, s.Executed, s.Skipped)
	}
	if s.PendingRecordID != nil {
		fmt.Fprintf(w, "Pending:  approval %s\n", s.PendingRecordID)
	}
	if s.Summary != "" {
		fmt.Fprintf(w, "Summary:  %s\n", s.Summary)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", s.Error)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func printBatches(w io.Writer, results map[string]agents.BatchResult) {
	kinds := make([]string, 0, len(results))
	for k := range results {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, k := range kinds {
		res := results[k]
		fmt.Fprintf(w, "%-10s ran %d of %d due\n", k, res.Started, res.Due)
		if len(res.Errors) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(res.Errors, "\n  "))
		}
	}
}
