/*-------------------------------------------------------------------------
 *
 * memory.go
 *    In-memory approval record store
 *
 * Used by tests and single-process deployments. A single mutex makes
 * every transition atomic, matching the row-level semantics of the
 * PostgreSQL store.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/approval/memory.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	order   []uuid.UUID
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration, clock func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{records: make(map[uuid.UUID]*Record), ttl: ttl, now: clock}
}

func (s *MemoryStore) Create(ctx context.Context, draft Draft) (uuid.UUID, error) {
	rec := newRecord(draft, s.now(), s.ttl)
	rec.ID = uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID, nil
}

/* copyRecord returns a snapshot callers may keep */
func copyRecord(rec *Record) *Record {
	c := *rec
	return &c
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.AgencyID != tenantID {
		return nil, fmt.Errorf("%w: id='%s'", ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Resolve(ctx context.Context, tenantID, id uuid.UUID, decision Decision, actorID, reason string, now time.Time) (*Record, error) {
	if decision != DecisionApprove && decision != DecisionDeny {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidDecision, decision)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.AgencyID != tenantID {
		return nil, fmt.Errorf("%w: id='%s'", ErrNotFound, id)
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: id='%s', status='%s'", ErrAlreadyResolved, id, rec.Status)
	}
	if !now.Before(rec.ExpiresAt) {
		rec.Status = StatusCancelled
		rec.CancelledAt = &now
		rec.UpdatedAt = now
		return nil, fmt.Errorf("%w: id='%s'", ErrExpired, id)
	}

	actor := actorID
	if decision == DecisionApprove {
		rec.Status = StatusApproved
		rec.ApprovedBy = &actor
		rec.ApprovedAt = &now
	} else {
		rec.Status = StatusDenied
		rec.DeniedBy = &actor
		rec.DeniedAt = &now
		rec.DenialReason = optional(reason)
	}
	rec.UpdatedAt = now
	return copyRecord(rec), nil
}

func (s *MemoryStore) MarkExecuting(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || (rec.Status != StatusApproved && rec.Status != StatusAutoApproved) {
		return false, nil
	}
	now := s.now()
	rec.Status = StatusExecuting
	rec.ExecutingAt = &now
	rec.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkExecuted(ctx context.Context, id uuid.UUID, result map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusExecuting {
		return fmt.Errorf("%w: id='%s', to='%s'", ErrInvalidTransition, id, StatusExecuted)
	}
	now := s.now()
	rec.Status = StatusExecuted
	rec.ExecutedAt = &now
	rec.ExecutionResult = db.JSONBMap(result)
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusExecuting {
		return fmt.Errorf("%w: id='%s', to='%s'", ErrInvalidTransition, id, StatusFailed)
	}
	rec.Status = StatusFailed
	rec.ErrorMessage = &message
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.AgencyID != filter.AgencyID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.AgentType != nil && rec.AgentType != *filter.AgentType {
			continue
		}
		out = append(out, *rec)
	}

	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Offset >= len(out) {
		return []Record{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ExpirePending(ctx context.Context, now time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status == StatusPending && !now.Before(rec.ExpiresAt) {
			rec.Status = StatusCancelled
			cancelledAt := now
			rec.CancelledAt = &cancelledAt
			rec.UpdatedAt = now
			expired = append(expired, *rec)
		}
	}
	return expired, nil
}

/* All returns every record regardless of tenant, for inspection in tests */
func (s *MemoryStore) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}
