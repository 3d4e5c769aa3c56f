/*-------------------------------------------------------------------------
 *
 * handlers.go
 *    API handlers for grow
 *
 * Handlers resolve the tenant from the X-Agency-ID header and delegate to
 * the store for configuration and to the orchestration service for runs
 * and approval decisions.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
)

/* TenantHeader names the header carrying the caller's agency id */
const TenantHeader = "X-Agency-ID"

/* Store is the configuration storage the handlers need; *db.Queries satisfies it */
type Store interface {
	GetAdAccountForAgency(ctx context.Context, agencyID, id uuid.UUID) (*db.AdAccount, error)

	CreateRule(ctx context.Context, rule *db.Rule) error
	GetRule(ctx context.Context, agencyID, id uuid.UUID) (*db.Rule, error)
	ListRules(ctx context.Context, agencyID uuid.UUID, status *string) ([]db.Rule, error)
	UpdateRuleGuardrails(ctx context.Context, rule *db.Rule) error
	UpdateRuleStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error)
	CountOpenApprovalsForRule(ctx context.Context, ruleID uuid.UUID) (int, error)

	CreateTracker(ctx context.Context, tracker *db.Tracker) error
	GetTracker(ctx context.Context, agencyID, id uuid.UUID) (*db.Tracker, error)
	ListTrackers(ctx context.Context, agencyID uuid.UUID, status *string) ([]db.Tracker, error)
	UpdateTracker(ctx context.Context, tracker *db.Tracker) error
	UpdateTrackerStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error)
	CountOpenApprovalsForTracker(ctx context.Context, trackerID uuid.UUID) (int, error)
}

var _ Store = (*db.Queries)(nil)

/* Orchestrator runs pipelines and applies decisions; *agents.Service satisfies it */
type Orchestrator interface {
	StartRun(ctx context.Context, kind agents.Kind, tenantID, subjectID uuid.UUID) (string, *agents.RunSummary, error)
	ResolveApproval(ctx context.Context, tenantID, recordID uuid.UUID, decision approval.Decision, actorID, reason string) (*agents.Resolution, error)
	Run(ctx context.Context, tenantID uuid.UUID, runID string) (*agents.RunInfo, error)
	RunDue(ctx context.Context, kind agents.Kind, now time.Time) (agents.BatchResult, error)
}

var _ Orchestrator = (*agents.Service)(nil)

/* HealthFunc reports whether the service's dependencies are reachable */
type HealthFunc func(ctx context.Context) error

type Handlers struct {
	store     Store
	approvals approval.Store
	svc       Orchestrator
	health    HealthFunc
	now       func() time.Time
}

func NewHandlers(store Store, approvals approval.Store, svc Orchestrator, health HealthFunc) *Handlers {
	return &Handlers{
		store:     store,
		approvals: approvals,
		svc:       svc,
		health:    health,
		now:       time.Now,
	}
}

/* tenant reads the agency id header, answering 400 itself when it is unusable */
func (h *Handlers) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(TenantHeader)
	if raw == "" {
		h.fail(w, r, http.StatusBadRequest, TenantHeader+" header is required", nil, "tenant", "")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid "+TenantHeader+" header", err, "tenant", raw)
		return uuid.Nil, false
	}
	return id, true
}

/* fail logs server-side failures and writes the error envelope */
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, code int, message string, err error, resource, id string) {
	apiErr := NewErrorWithContext(code, message, err, GetRequestID(r.Context()), r.URL.Path, r.Method, resource, id)
	if code >= http.StatusInternalServerError {
		metrics.ErrorWithContext(r.Context(), message, err, map[string]interface{}{
			"endpoint": apiErr.Endpoint,
			"method":   apiErr.Method,
			"resource": resource,
			"id":       id,
		})
	}
	respondError(w, apiErr)
}

/* failErr maps a domain error onto its HTTP code */
func (h *Handlers) failErr(w http.ResponseWriter, r *http.Request, message string, err error, resource, id string) {
	h.fail(w, r, statusFor(err), message, err, resource, id)
}

/* Health pings the database */
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			metrics.WarnWithContext(r.Context(), "Health check failed", map[string]interface{}{"error": err.Error()})
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
