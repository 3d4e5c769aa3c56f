/*-------------------------------------------------------------------------
 *
 * root.go
 *    Root command and global flags for grow-cli
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cli/cmd/root.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/app"
	"github.com/rakshittt/grow/internal/config"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	logLevel     string
	outputFormat string
	agencyID     string
)

var rootCmd = &cobra.Command{
	Use:   "grow-cli",
	Short: "grow-cli - operate the ad optimizer and competitor spy pipelines",
	Long: `grow-cli talks to the grow database directly and drives the same
pipelines the server runs, for maintenance and incident work.

Examples:
  # Apply schema migrations
  grow-cli migrate

  # Run one optimizer pass for a rule now
  grow-cli run optimizer <rule-id> --agency <agency-id>

  # Dispatch everything that is due, once
  grow-cli tick

  # Approve a pending budget change
  grow-cli approve <approval-id> --agency <agency-id> --actor ops@example.com
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults to CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(showRunCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

/* loadConfig resolves configuration and starts logging for a command */
func loadConfig() (*config.Config, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	/* logs go to stderr so --format json output stays parseable */
	metrics.InitLoggingTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	return cfg, nil
}

/* withApp builds the full component graph, runs fn and tears it down */
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseUUID(what, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: '%s'", what, s)
	}
	return id, nil
}

func agency() (uuid.UUID, error) {
	if agencyID == "" {
		return uuid.Nil, fmt.Errorf("--agency is required")
	}
	return parseUUID("agency id", agencyID)
}

/* render writes v as indented JSON, or hands off to text when format is text */
func render(w io.Writer, v interface{}, text func(io.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(w)
		return nil
	}
	return fmt.Errorf("unknown output format: '%s'", outputFormat)
}
