/*-------------------------------------------------------------------------
 *
 * queries.go
 *    Database queries for grow
 *
 * Query methods are split by entity across *_queries.go files. Every
 * status change is a single conditional UPDATE whose RowsAffected
 * decides whether the caller won the transition.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

/* Queries wraps the pool with typed query methods */
type Queries struct {
	DB *sqlx.DB
}

func NewQueries(db *sqlx.DB) *Queries {
	return &Queries{DB: db}
}

/* notFound maps sql.ErrNoRows onto ErrNotFound with entity context */
func notFound(err error, entity string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s not found: id='%v': %w", entity, id, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s already exists: %w", entity, ErrDuplicate)
	}
	return fmt.Errorf("failed to query %s: id='%v', error=%w", entity, id, err)
}

/* execCAS runs a conditional update and reports whether exactly one row changed */
func (q *Queries) execCAS(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := q.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
