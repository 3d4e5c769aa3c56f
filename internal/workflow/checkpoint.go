/*-------------------------------------------------------------------------
 *
 * checkpoint.go
 *    Durable run checkpoints
 *
 * A checkpoint holds the serialized run state and the step the run is
 * parked at. Saves are fenced by a version number so that two workers
 * holding the same checkpoint cannot both advance it.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/workflow/checkpoint.go
 *
 *-------------------------------------------------------------------------
 */

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

/* Terminal reports whether no further execution is possible */
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrRunExists          = errors.New("run already exists")
	ErrRunNotSuspended    = errors.New("run is not suspended")
	ErrCheckpointConflict = errors.New("checkpoint was modified concurrently")
	ErrCorruptCheckpoint  = errors.New("checkpoint state cannot be decoded")
)

type Checkpoint struct {
	RunID     string
	Pipeline  string
	AgencyID  uuid.UUID
	SubjectID uuid.UUID
	NextStep  string
	Status    Status
	State     []byte
	Error     string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CheckpointStore interface {
	/* Create inserts a new checkpoint at version 1 */
	Create(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, runID string) (*Checkpoint, error)
	/* Save writes cp if the stored version equals expected, then bumps cp.Version */
	Save(ctx context.Context, cp *Checkpoint, expected int64) error
}

/* MemoryCheckpointStore keeps checkpoints in process memory */
type MemoryCheckpointStore struct {
	mu   sync.Mutex
	runs map[string]Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{runs: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpointStore) Create(ctx context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[cp.RunID]; ok {
		return fmt.Errorf("%w: run_id='%s'", ErrRunExists, cp.RunID)
	}
	now := time.Now()
	cp.Version = 1
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.runs[cp.RunID] = cloneCheckpoint(*cp)
	return nil
}

func (m *MemoryCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run_id='%s'", ErrRunNotFound, runID)
	}
	c := cloneCheckpoint(cp)
	return &c, nil
}

func (m *MemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[cp.RunID]
	if !ok {
		return fmt.Errorf("%w: run_id='%s'", ErrRunNotFound, cp.RunID)
	}
	if stored.Version != expected {
		return fmt.Errorf("%w: run_id='%s', expected_version=%d, actual_version=%d",
			ErrCheckpointConflict, cp.RunID, expected, stored.Version)
	}
	cp.Version = expected + 1
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = time.Now()
	m.runs[cp.RunID] = cloneCheckpoint(*cp)
	return nil
}

func cloneCheckpoint(cp Checkpoint) Checkpoint {
	cp.State = append([]byte(nil), cp.State...)
	return cp
}

/* PostgresCheckpointStore persists checkpoints in grow.run_checkpoints */
type PostgresCheckpointStore struct {
	queries *db.Queries
}

func NewPostgresCheckpointStore(queries *db.Queries) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{queries: queries}
}

func (p *PostgresCheckpointStore) Create(ctx context.Context, cp *Checkpoint) error {
	row := toRow(cp)
	if err := p.queries.CreateCheckpoint(ctx, row); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return fmt.Errorf("%w: run_id='%s'", ErrRunExists, cp.RunID)
		}
		return err
	}
	cp.Version, cp.CreatedAt, cp.UpdatedAt = row.Version, row.CreatedAt, row.UpdatedAt
	return nil
}

func (p *PostgresCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	row, err := p.queries.GetCheckpoint(ctx, runID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: run_id='%s'", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return fromRow(row), nil
}

func (p *PostgresCheckpointStore) Save(ctx context.Context, cp *Checkpoint, expected int64) error {
	row := toRow(cp)
	if err := p.queries.SaveCheckpoint(ctx, row, expected); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: run_id='%s', expected_version=%d", ErrCheckpointConflict, cp.RunID, expected)
		}
		return err
	}
	cp.Version, cp.UpdatedAt = row.Version, row.UpdatedAt
	return nil
}

func toRow(cp *Checkpoint) *db.Checkpoint {
	row := &db.Checkpoint{
		RunID:     cp.RunID,
		Pipeline:  cp.Pipeline,
		AgencyID:  cp.AgencyID,
		SubjectID: cp.SubjectID,
		NextStep:  cp.NextStep,
		Status:    string(cp.Status),
		State:     db.JSONRaw(cp.State),
		Version:   cp.Version,
	}
	if cp.Error != "" {
		msg := cp.Error
		row.ErrorMessage = &msg
	}
	return row
}

func fromRow(row *db.Checkpoint) *Checkpoint {
	cp := &Checkpoint{
		RunID:     row.RunID,
		Pipeline:  row.Pipeline,
		AgencyID:  row.AgencyID,
		SubjectID: row.SubjectID,
		NextStep:  row.NextStep,
		Status:    Status(row.Status),
		State:     []byte(row.State),
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ErrorMessage != nil {
		cp.Error = *row.ErrorMessage
	}
	return cp
}
