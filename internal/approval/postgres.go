/*-------------------------------------------------------------------------
 *
 * postgres.go
 *    PostgreSQL-backed approval record store
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/approval/postgres.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
)

type PostgresStore struct {
	queries *db.Queries
	ttl     time.Duration
	now     func() time.Time
}

func NewPostgresStore(queries *db.Queries, ttl time.Duration, clock func() time.Time) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &PostgresStore{queries: queries, ttl: ttl, now: clock}
}

func (s *PostgresStore) Create(ctx context.Context, draft Draft) (uuid.UUID, error) {
	rec := newRecord(draft, s.now(), s.ttl)
	if err := s.queries.CreateApprovalRecord(ctx, rec); err != nil {
		return uuid.Nil, err
	}
	metrics.RecordApprovalTransition("created_" + rec.Status)
	return rec.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*Record, error) {
	rec, err := s.queries.GetApprovalRecord(ctx, tenantID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: id='%s'", ErrNotFound, id)
	}
	return rec, err
}

/*
 * Resolve attempts the transition first and only reads the row when the
 * update matched nothing, to tell the caller why.
 */
func (s *PostgresStore) Resolve(ctx context.Context, tenantID, id uuid.UUID, decision Decision, actorID, reason string, now time.Time) (*Record, error) {
	var (
		ok  bool
		err error
	)
	switch decision {
	case DecisionApprove:
		ok, err = s.queries.ApproveApprovalRecord(ctx, tenantID, id, actorID, now)
	case DecisionDeny:
		ok, err = s.queries.DenyApprovalRecord(ctx, tenantID, id, actorID, optional(reason), now)
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidDecision, decision)
	}
	if err != nil {
		return nil, err
	}

	if ok {
		metrics.RecordApprovalTransition(string(decision))
		return s.Get(ctx, tenantID, id)
	}
	return nil, s.classify(ctx, tenantID, id, now)
}

func (s *PostgresStore) classify(ctx context.Context, tenantID, id uuid.UUID, now time.Time) error {
	rec, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: id='%s', status='%s'", ErrAlreadyResolved, id, rec.Status)
	}
	if !now.Before(rec.ExpiresAt) {
		cancelled, err := s.queries.CancelExpiredApprovalRecord(ctx, id, now)
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("%w: id='%s'", ErrAlreadyResolved, id)
		}
		metrics.RecordApprovalTransition("expired")
		return fmt.Errorf("%w: id='%s', expires_at='%s'", ErrExpired, id, rec.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Errorf("%w: id='%s'", ErrAlreadyResolved, id)
}

func (s *PostgresStore) MarkExecuting(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.queries.MarkApprovalExecuting(ctx, id, s.now())
	if ok {
		metrics.RecordApprovalTransition("executing")
	}
	return ok, err
}

func (s *PostgresStore) MarkExecuted(ctx context.Context, id uuid.UUID, result map[string]interface{}) error {
	ok, err := s.queries.MarkApprovalExecuted(ctx, id, db.JSONBMap(result), s.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id='%s', to='%s'", ErrInvalidTransition, id, StatusExecuted)
	}
	metrics.RecordApprovalTransition("executed")
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	ok, err := s.queries.MarkApprovalFailed(ctx, id, message, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id='%s', to='%s'", ErrInvalidTransition, id, StatusFailed)
	}
	metrics.RecordApprovalTransition("failed")
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.queries.ListApprovalRecords(ctx, filter.AgencyID, filter.Status, filter.AgentType, limit, filter.Offset)
}

func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time) ([]Record, error) {
	records, err := s.queries.ExpirePendingApprovals(ctx, now)
	if err != nil {
		return nil, err
	}
	for range records {
		metrics.RecordApprovalTransition("expired")
	}
	return records, nil
}
