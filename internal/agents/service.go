/*-------------------------------------------------------------------------
 *
 * service.go
 *    Orchestration entry points for optimizer and spy runs
 *
 * The service owns both pipeline engines and is the only thing callers
 * outside the core talk to: the API, the CLI and the scheduler start
 * runs, resolve approvals and inspect checkpoints through it.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/agents/service.go
 *
 *-------------------------------------------------------------------------
 */

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/optimizer"
	"github.com/rakshittt/grow/internal/spy"
	"github.com/rakshittt/grow/internal/workflow"
)

type Kind string

const (
	KindOptimizer Kind = "optimizer"
	KindSpy       Kind = "spy"
)

var ErrUnknownKind = errors.New("unknown pipeline kind")

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOptimizer:
		return KindOptimizer, nil
	case KindSpy:
		return KindSpy, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownKind, s)
}

/* Run statuses reported to callers */
const (
	RunAwaitingApproval = "awaiting_approval"
	RunCompleted        = "completed"
	RunFailed           = "failed"
)

/* RunSummary describes where a run stopped */
type RunSummary struct {
	RunID           string     `json:"thread_id"`
	Kind            Kind       `json:"kind"`
	Status          string     `json:"status"`
	NextStep        string     `json:"next_step,omitempty"`
	Proposed        int        `json:"proposed"`
	Safe            int        `json:"safe"`
	Executed        int        `json:"executed"`
	Skipped         int        `json:"skipped"`
	PendingRecordID *uuid.UUID `json:"pending_approval_id,omitempty"`
	Errors          []string   `json:"errors"`
	Summary         string     `json:"summary,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type Config struct {
	Store       Store
	Approvals   approval.Store
	Checkpoints workflow.CheckpointStore
	Locker      workflow.Locker

	/* Accounts, Rules and Approvals default to the service's stores when nil */
	Optimizer optimizer.Deps
	/* Trackers, Webhooks and Approvals default likewise */
	Spy spy.Deps

	BatchLimit    int
	MaxConcurrent int
	/* RunTimeout bounds a started or resumed run once it no longer follows its caller */
	RunTimeout    time.Duration
	Now           func() time.Time
	EngineOptions []workflow.Option
}

/* DefaultRunTimeout covers a full spy poll budget with room to spare */
const DefaultRunTimeout = 30 * time.Minute

type Service struct {
	store       Store
	approvals   approval.Store
	checkpoints workflow.CheckpointStore
	optimizer   *optimizer.Engine
	spy         *spy.Engine
	optDeps     optimizer.Deps

	batchLimit    int
	maxConcurrent int
	runTimeout    time.Duration
	now           func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Approvals == nil || cfg.Checkpoints == nil {
		return nil, fmt.Errorf("agents service requires a store, an approval store and a checkpoint store")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Locker == nil {
		cfg.Locker = workflow.NewLocalLocker()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
		if budget := time.Duration(cfg.Spy.PollAttempts)*cfg.Spy.PollDelay + 10*time.Minute; budget > cfg.RunTimeout {
			cfg.RunTimeout = budget
		}
	}

	od := cfg.Optimizer
	if od.Approvals == nil {
		od.Approvals = cfg.Approvals
	}
	if od.Rules == nil {
		od.Rules = cfg.Store
	}
	if od.Accounts == nil {
		od.Accounts = NewAccountSource(cfg.Store)
	}
	if od.Now == nil {
		od.Now = cfg.Now
	}

	sd := cfg.Spy
	if sd.Approvals == nil {
		sd.Approvals = cfg.Approvals
	}
	if sd.Trackers == nil {
		sd.Trackers = cfg.Store
	}
	if sd.Webhooks == nil {
		sd.Webhooks = NewWebhookSource(cfg.Store)
	}
	if sd.Now == nil {
		sd.Now = cfg.Now
	}

	optEngine, err := optimizer.NewEngine(od, cfg.Checkpoints, cfg.Locker, cfg.EngineOptions...)
	if err != nil {
		return nil, err
	}
	spyEngine, err := spy.NewEngine(sd, cfg.Checkpoints, cfg.Locker, cfg.EngineOptions...)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:         cfg.Store,
		approvals:     cfg.Approvals,
		checkpoints:   cfg.Checkpoints,
		optimizer:     optEngine,
		spy:           spyEngine,
		optDeps:       od,
		batchLimit:    cfg.BatchLimit,
		maxConcurrent: cfg.MaxConcurrent,
		runTimeout:    cfg.RunTimeout,
		now:           cfg.Now,
	}, nil
}

/* OptimizerRunID builds optimizer_<ruleId>_<YYYY-MM-DD>_<8 hex> */
func OptimizerRunID(ruleID uuid.UUID, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("optimizer_%s_%s_%s", ruleID, at.UTC().Format("2006-01-02"), suffix)
}

/* SpyRunID builds spy_<trackerId>_<uuid> */
func SpyRunID(trackerID uuid.UUID) string {
	return fmt.Sprintf("spy_%s_%s", trackerID, uuid.NewString())
}

/*
 * StartRun starts a new run for a rule or tracker on demand. Each call is
 * an independent run. The subject's next_run_at is advanced best effort
 * so a scheduler tick right after does not start a second run.
 */
func (s *Service) StartRun(ctx context.Context, kind Kind, tenantID, subjectID uuid.UUID) (string, *RunSummary, error) {
	ctx = metrics.WithTenant(ctx, tenantID.String())
	switch kind {
	case KindOptimizer:
		rule, err := s.store.GetRule(ctx, tenantID, subjectID)
		if err != nil {
			return "", nil, err
		}
		now := s.now()
		if _, err := s.store.ClaimRuleRun(ctx, rule.ID, rule.NextRunAt, now.Add(rule.CheckInterval())); err != nil {
			metrics.WarnWithContext(ctx, "Rule claim failed before on-demand run", map[string]interface{}{"error": err.Error()})
		}
		return s.startOptimizer(ctx, ruleState(rule), now)

	case KindSpy:
		tracker, err := s.store.GetTracker(ctx, tenantID, subjectID)
		if err != nil {
			return "", nil, err
		}
		now := s.now()
		if _, err := s.store.ClaimTrackerRun(ctx, tracker.ID, tracker.NextRunAt, now.Add(tracker.RunInterval())); err != nil {
			metrics.WarnWithContext(ctx, "Tracker claim failed before on-demand run", map[string]interface{}{"error": err.Error()})
		}
		return s.startSpy(ctx, spyState(tracker))
	}
	return "", nil, fmt.Errorf("%w: '%s'", ErrUnknownKind, kind)
}

/*
 * detach keeps ctx's values but drops its cancellation. Once a subject is
 * claimed or a record resolved the run must reach a checkpoint even if
 * the request or tick that started it goes away.
 */
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
}

func (s *Service) startOptimizer(ctx context.Context, st optimizer.State, now time.Time) (string, *RunSummary, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()
	runID := OptimizerRunID(st.Rule.ID, now)
	st.RunID = runID
	res, err := s.optimizer.Start(ctx, runID, workflow.RunMeta{AgencyID: st.AgencyID, SubjectID: st.Rule.ID}, st)
	if res == nil {
		return runID, nil, err
	}
	sum := optimizerSummary(res.RunID, res.Status, res.NextStep, res.State)
	if err != nil {
		sum.Error = err.Error()
	}
	return runID, sum, nil
}

func (s *Service) startSpy(ctx context.Context, st spy.State) (string, *RunSummary, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()
	runID := SpyRunID(st.Tracker.ID)
	st.RunID = runID
	res, err := s.spy.Start(ctx, runID, workflow.RunMeta{AgencyID: st.AgencyID, SubjectID: st.Tracker.ID}, st)
	if res == nil {
		return runID, nil, err
	}
	sum := spySummary(res.RunID, res.Status, res.NextStep, res.State)
	if err != nil {
		sum.Error = err.Error()
	}
	return runID, sum, nil
}

func runStatus(status workflow.Status) string {
	switch status {
	case workflow.StatusSuspended:
		return RunAwaitingApproval
	case workflow.StatusFailed:
		return RunFailed
	case workflow.StatusCompleted:
		return RunCompleted
	}
	return string(status)
}

func optimizerSummary(runID string, status workflow.Status, next string, st optimizer.State) *RunSummary {
	sum := &RunSummary{
		RunID:    runID,
		Kind:     KindOptimizer,
		Status:   runStatus(status),
		NextStep: next,
		Proposed: len(st.Proposed),
		Safe:     len(st.Safe),
		Executed: st.ExecutedCount(),
		Skipped:  len(st.Skipped),
		Errors:   append([]string{}, st.Errors...),
		Summary:  st.Summary,
	}
	if status == workflow.StatusSuspended {
		sum.PendingRecordID = st.CurrentRecordID
	}
	return sum
}

func spySummary(runID string, status workflow.Status, next string, st spy.State) *RunSummary {
	sum := &RunSummary{
		RunID:    runID,
		Kind:     KindSpy,
		Status:   runStatus(status),
		NextStep: next,
		Errors:   append([]string{}, st.Errors...),
	}
	if st.Report != nil {
		sum.Summary = fmt.Sprintf("%d top ads, dominant format %s.", len(st.Report.TopAds), st.Report.DominantFormat)
	}
	return sum
}

/* RunInfo is the inspection view of a checkpoint */
type RunInfo struct {
	RunID     string          `json:"run_id"`
	Pipeline  string          `json:"pipeline"`
	Status    string          `json:"status"`
	NextStep  string          `json:"next_step"`
	Error     string          `json:"error,omitempty"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

/* Run returns a run's checkpoint, scoped to the tenant */
func (s *Service) Run(ctx context.Context, tenantID uuid.UUID, runID string) (*RunInfo, error) {
	cp, err := s.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.AgencyID != tenantID {
		return nil, fmt.Errorf("%w: run_id='%s'", workflow.ErrRunNotFound, runID)
	}
	state := json.RawMessage(cp.State)
	if !json.Valid(state) {
		state = json.RawMessage("null")
	}
	return &RunInfo{
		RunID:     cp.RunID,
		Pipeline:  cp.Pipeline,
		Status:    string(cp.Status),
		NextStep:  cp.NextStep,
		Error:     cp.Error,
		State:     state,
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
	}, nil
}
