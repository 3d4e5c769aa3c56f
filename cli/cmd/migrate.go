/*-------------------------------------------------------------------------
 *
 * migrate.go
 *    Schema migration command for grow-cli
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cli/cmd/migrate.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"fmt"

	"github.com/rakshittt/grow/internal/app"
	"github.com/rakshittt/grow/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

/* runMigrate only needs the database, not inference or ad platform credentials */
func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.Migrate(cmd.Context(), database.DB)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", applied)
	return nil
}
