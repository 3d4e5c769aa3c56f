/*-------------------------------------------------------------------------
 *
 * migrate.go
 *    Embedded schema migrations
 *
 * Migrations are plain SQL files compiled into the binary. Each file runs
 * once, inside its own transaction, and is recorded by name in
 * grow.schema_migrations.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/migrate.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/rakshittt/grow/internal/metrics"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	createMigrationsTableQuery = `
		CREATE SCHEMA IF NOT EXISTS grow;
		CREATE TABLE IF NOT EXISTS grow.schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`

	listAppliedMigrationsQuery = `SELECT name FROM grow.schema_migrations`

	recordMigrationQuery = `INSERT INTO grow.schema_migrations (name) VALUES ($1)`
)

/* Migrate applies every embedded migration not yet recorded */
func Migrate(ctx context.Context, conn *sqlx.DB) (int, error) {
	if _, err := conn.ExecContext(ctx, createMigrationsTableQuery); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []string
	if err := conn.SelectContext(ctx, &applied, listAppliedMigrationsQuery); err != nil {
		return 0, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to list embedded migrations: %w", err)
	}
	sort.Strings(names)

	count := 0
	for _, path := range names {
		name := path[len("migrations/"):]
		if done[name] {
			continue
		}

		body, err := migrationFS.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("failed to read migration: name='%s', error=%w", name, err)
		}

		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return count, fmt.Errorf("failed to begin migration: name='%s', error=%w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("migration failed: name='%s', error=%w", name, err)
		}
		if _, err := tx.ExecContext(ctx, recordMigrationQuery, name); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("failed to record migration: name='%s', error=%w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return count, fmt.Errorf("failed to commit migration: name='%s', error=%w", name, err)
		}

		metrics.InfoWithContext(ctx, "Applied migration", map[string]interface{}{"migration": name})
		count++
	}
	return count, nil
}
