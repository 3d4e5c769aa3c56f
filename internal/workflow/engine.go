/*-------------------------------------------------------------------------
 *
 * engine.go
 *    Durable step executor with suspend and resume
 *
 * The engine walks a Definition one step at a time. Reaching a suspend
 * point writes the state and the suspend step to the checkpoint and
 * returns; Resume later merges external input into the state and
 * continues along the suspend step's edge, possibly in another process.
 *
 * A step that returns an error or panics ends the run as failed. Steps
 * that want to degrade gracefully record their problem in the state
 * instead and let an edge route around it.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/workflow/engine.go
 *
 *-------------------------------------------------------------------------
 */

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rakshittt/grow/internal/workflow"

var (
	ErrUnknownStep  = errors.New("unknown step")
	ErrStepPanic    = errors.New("step panicked")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrRunCancelled = errors.New("run cancelled")
)

/* RunError reports a run that ended in the failed state */
type RunError struct {
	RunID string
	Step  string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed: run_id='%s', step='%s', error=%v", e.RunID, e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type RunMeta struct {
	AgencyID  uuid.UUID
	SubjectID uuid.UUID
}

type Result[S any] struct {
	RunID    string
	Status   Status
	State    S
	NextStep string
}

type Option func(*options)

type options struct {
	tracer trace.Tracer
}

/* WithTracer overrides the global OpenTelemetry tracer */
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

type Engine[S, U any] struct {
	def    *Definition[S, U]
	store  CheckpointStore
	locker Locker
	tracer trace.Tracer
}

func NewEngine[S, U any](def *Definition[S, U], store CheckpointStore, locker Locker, opts ...Option) *Engine[S, U] {
	o := options{tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(&o)
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Engine[S, U]{def: def, store: store, locker: locker, tracer: o.tracer}
}

func (e *Engine[S, U]) Name() string {
	return e.def.Name
}

/*
 * Start creates the run's checkpoint and executes from the start step.
 * The returned Result is non-nil whenever the checkpoint was created,
 * including for failed runs, which also return a *RunError.
 */
func (e *Engine[S, U]) Start(ctx context.Context, runID string, meta RunMeta, initial S) (*Result[S], error) {
	release, err := e.locker.Acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to encode initial state: run_id='%s', error=%w", runID, err)
	}
	cp := &Checkpoint{
		RunID:     runID,
		Pipeline:  e.def.Name,
		AgencyID:  meta.AgencyID,
		SubjectID: meta.SubjectID,
		NextStep:  e.def.Start,
		Status:    StatusRunning,
		State:     state,
	}
	if err := e.store.Create(ctx, cp); err != nil {
		return nil, err
	}

	ctx = metrics.WithRun(ctx, runID, e.def.Name)
	metrics.InfoWithContext(ctx, "Run started", map[string]interface{}{
		"agency_id":  meta.AgencyID.String(),
		"subject_id": meta.SubjectID.String(),
	})
	return e.execute(ctx, cp, initial, e.def.Start)
}

/*
 * Resume merges input into a suspended run and continues along the edge
 * out of the suspend step. The suspended -> running transition is a
 * version-fenced save, so of two concurrent resumes at most one proceeds.
 */
func (e *Engine[S, U]) Resume(ctx context.Context, runID string, input U) (*Result[S], error) {
	release, err := e.locker.Acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.Status != StatusSuspended {
		return nil, fmt.Errorf("%w: run_id='%s', status='%s'", ErrRunNotSuspended, runID, cp.Status)
	}
	ctx = metrics.WithRun(ctx, runID, e.def.Name)

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, e.failCorrupt(ctx, cp, err)
	}

	suspendedAt := cp.NextStep
	expected := cp.Version
	cp.Status = StatusRunning
	if err := e.store.Save(ctx, cp, expected); err != nil {
		return nil, err
	}

	metrics.InfoWithContext(ctx, "Run resumed", map[string]interface{}{"suspended_at": suspendedAt})

	state = e.def.Apply(state, input)
	next, err := e.def.route(suspendedAt, state)
	if err != nil {
		return e.fail(ctx, cp, state, suspendedAt, err)
	}
	return e.execute(ctx, cp, state, next)
}

/* Inspect returns the stored checkpoint and its decoded state */
func (e *Engine[S, U]) Inspect(ctx context.Context, runID string) (*Checkpoint, S, error) {
	var state S
	cp, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, state, err
	}
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return cp, state, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return cp, state, nil
}

func (e *Engine[S, U]) execute(ctx context.Context, cp *Checkpoint, state S, next string) (*Result[S], error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run "+e.def.Name, trace.WithAttributes(
		attribute.String("workflow.pipeline", e.def.Name),
		attribute.String("workflow.run_id", cp.RunID),
		attribute.String("workflow.entry_step", next),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = metrics.WithTraceID(ctx, sc.TraceID().String())
	}

	for executed := 0; next != End; executed++ {
		if executed >= e.def.MaxSteps {
			return e.failSpan(ctx, span, cp, state, next, fmt.Errorf("%w: limit=%d", ErrStepLimit, e.def.MaxSteps))
		}
		if err := ctx.Err(); err != nil {
			return e.failSpan(ctx, span, cp, state, next, fmt.Errorf("%w: %v", ErrRunCancelled, err))
		}

		update, err := e.runStep(ctx, next, state)
		if err != nil {
			return e.failSpan(ctx, span, cp, state, next, err)
		}
		state = e.def.Apply(state, update)

		if pred, ok := e.def.Interrupts[next]; ok && (pred == nil || pred(state)) {
			span.SetAttributes(attribute.String("workflow.suspended_at", next))
			return e.suspend(ctx, cp, state, next)
		}

		from := next
		if next, err = e.def.route(from, state); err != nil {
			return e.failSpan(ctx, span, cp, state, from, err)
		}
	}

	if err := e.persist(ctx, cp, state, End, StatusCompleted, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordPipelineRun(e.def.Name, string(StatusCompleted))
	metrics.InfoWithContext(ctx, "Run completed", nil)
	return &Result[S]{RunID: cp.RunID, Status: StatusCompleted, State: state, NextStep: End}, nil
}

func (e *Engine[S, U]) runStep(ctx context.Context, name string, state S) (update U, err error) {
	step := e.def.Steps[name]
	if step == nil {
		return update, fmt.Errorf("%w: '%s'", ErrUnknownStep, name)
	}

	ctx = metrics.WithStep(ctx, name)
	ctx, span := e.tracer.Start(ctx, "workflow.step "+name, trace.WithAttributes(
		attribute.String("workflow.pipeline", e.def.Name),
		attribute.String("workflow.step", name),
	))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
		metrics.RecordStepDuration(e.def.Name, name, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	metrics.DebugWithContext(ctx, "Step started", nil)
	return step(ctx, state)
}

func (e *Engine[S, U]) suspend(ctx context.Context, cp *Checkpoint, state S, at string) (*Result[S], error) {
	if err := e.persist(ctx, cp, state, at, StatusSuspended, ""); err != nil {
		return nil, err
	}
	metrics.RecordPipelineRun(e.def.Name, string(StatusSuspended))
	metrics.InfoWithContext(ctx, "Run suspended", map[string]interface{}{"suspended_at": at})
	return &Result[S]{RunID: cp.RunID, Status: StatusSuspended, State: state, NextStep: at}, nil
}

func (e *Engine[S, U]) failSpan(ctx context.Context, span trace.Span, cp *Checkpoint, state S, step string, cause error) (*Result[S], error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return e.fail(ctx, cp, state, step, cause)
}

/* fail marks the run terminal-failed; the checkpoint stays as the failure record */
func (e *Engine[S, U]) fail(ctx context.Context, cp *Checkpoint, state S, step string, cause error) (*Result[S], error) {
	runErr := &RunError{RunID: cp.RunID, Step: step, Err: cause}
	metrics.ErrorWithContext(ctx, "Run failed", cause, map[string]interface{}{"failed_step": step})
	metrics.RecordPipelineRun(e.def.Name, string(StatusFailed))

	/* A cancelled run must still be able to record its failure */
	if err := e.persist(context.WithoutCancel(ctx), cp, state, step, StatusFailed, cause.Error()); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to record run failure", err, nil)
		return nil, errors.Join(runErr, err)
	}
	return &Result[S]{RunID: cp.RunID, Status: StatusFailed, State: state, NextStep: step}, runErr
}

/* failCorrupt marks a run failed without rewriting the undecodable state */
func (e *Engine[S, U]) failCorrupt(ctx context.Context, cp *Checkpoint, cause error) error {
	runErr := &RunError{RunID: cp.RunID, Step: cp.NextStep, Err: fmt.Errorf("%w: %v", ErrCorruptCheckpoint, cause)}
	metrics.ErrorWithContext(ctx, "Run failed", runErr.Err, map[string]interface{}{"failed_step": cp.NextStep})
	metrics.RecordPipelineRun(e.def.Name, string(StatusFailed))

	expected := cp.Version
	cp.Status = StatusFailed
	cp.Error = runErr.Err.Error()
	if err := e.store.Save(ctx, cp, expected); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (e *Engine[S, U]) persist(ctx context.Context, cp *Checkpoint, state S, next string, status Status, errMsg string) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: run_id='%s', error=%w", cp.RunID, err)
	}
	expected := cp.Version
	cp.State = encoded
	cp.NextStep = next
	cp.Status = status
	cp.Error = errMsg
	return e.store.Save(ctx, cp, expected)
}
