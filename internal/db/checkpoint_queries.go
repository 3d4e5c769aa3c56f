/*-------------------------------------------------------------------------
 *
 * checkpoint_queries.go
 *    Database queries for workflow run checkpoints
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/checkpoint_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import "context"

const (
	createCheckpointQuery = `
		INSERT INTO grow.run_checkpoints
		(run_id, pipeline, agency_id, subject_id, next_step, status, state, error_message, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, 1)
		RETURNING version, created_at, updated_at`

	getCheckpointQuery = `SELECT * FROM grow.run_checkpoints WHERE run_id = $1`

	/* Version is the fence: a writer holding a stale copy updates zero rows */
	saveCheckpointQuery = `
		UPDATE grow.run_checkpoints
		SET next_step = $2, status = $3, state = $4::jsonb, error_message = $5,
			version = version + 1, updated_at = NOW()
		WHERE run_id = $1 AND version = $6
		RETURNING version, updated_at`
)

func (q *Queries) CreateCheckpoint(ctx context.Context, cp *Checkpoint) error {
	params := []interface{}{
		cp.RunID, cp.Pipeline, cp.AgencyID, cp.SubjectID, cp.NextStep, cp.Status, cp.State, cp.ErrorMessage,
	}
	if err := q.DB.GetContext(ctx, cp, createCheckpointQuery, params...); err != nil {
		return notFound(err, "checkpoint", cp.RunID)
	}
	return nil
}

func (q *Queries) GetCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := q.DB.GetContext(ctx, &cp, getCheckpointQuery, runID); err != nil {
		return nil, notFound(err, "checkpoint", runID)
	}
	return &cp, nil
}

/*
 * SaveCheckpoint writes cp if the stored version still equals expected.
 * On success cp.Version holds the new version. ErrNotFound means the
 * version moved or the run does not exist.
 */
func (q *Queries) SaveCheckpoint(ctx context.Context, cp *Checkpoint, expected int64) error {
	params := []interface{}{cp.RunID, cp.NextStep, cp.Status, cp.State, cp.ErrorMessage, expected}
	if err := q.DB.GetContext(ctx, cp, saveCheckpointQuery, params...); err != nil {
		return notFound(err, "checkpoint", cp.RunID)
	}
	return nil
}
