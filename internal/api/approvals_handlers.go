/*-------------------------------------------------------------------------
 *
 * approvals_handlers.go
 *    API handlers for human-in-the-loop approval records
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/approvals_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/db"
)

var approvalStatuses = map[string]bool{
	approval.StatusPending:      true,
	approval.StatusApproved:     true,
	approval.StatusDenied:       true,
	approval.StatusCancelled:    true,
	approval.StatusExecuting:    true,
	approval.StatusExecuted:     true,
	approval.StatusFailed:       true,
	approval.StatusAutoApproved: true,
}

/* ResolveRequest is the body of PATCH /approvals/{id} */
type ResolveRequest struct {
	Action  string `json:"action" validate:"required"`
	Reason  string `json:"reason" validate:"max=2000"`
	ActorID string `json:"actor_id" validate:"required,max=200"`
}

type ResolveResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

/* ListApprovals lists the tenant's records, newest first */
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	limit, offset, err := ValidatePaginationParams(r)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid pagination", err, "approval", "")
		return
	}

	filter := approval.Filter{AgencyID: tenantID, Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("status"); s != "" {
		if !approvalStatuses[s] {
			h.fail(w, r, http.StatusBadRequest, "invalid status filter", fmt.Errorf("unknown status '%s'", s), "approval", "")
			return
		}
		filter.Status = &s
	}
	if a := r.URL.Query().Get("agent_type"); a != "" {
		if a != approval.AgentOptimizer && a != approval.AgentSpy {
			h.fail(w, r, http.StatusBadRequest, "invalid agent_type filter", fmt.Errorf("unknown agent type '%s'", a), "approval", "")
			return
		}
		filter.AgentType = &a
	}

	records, err := h.approvals.List(r.Context(), filter)
	if err != nil {
		h.failErr(w, r, "failed to list approval records", err, "approval", "")
		return
	}
	if records == nil {
		records = []db.ApprovalRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, err := parseID(mux.Vars(r)["id"], "approval_id")
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid approval id", err, "approval", "")
		return
	}

	rec, err := h.approvals.Get(r.Context(), tenantID, id)
	if err != nil {
		h.failErr(w, r, "approval record not found", err, "approval", id.String())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

/*
 * ResolveApproval approves or denies a pending record. Lifecycle errors
 * map to 404 (unknown), 409 (already resolved) and 410 (expired).
 */
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, err := parseID(mux.Vars(r)["id"], "approval_id")
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid approval id", err, "approval", "")
		return
	}

	var req ResolveRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid request body", err, "approval", id.String())
		return
	}
	decision, err := approval.ParseDecision(req.Action)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "action must be approve or deny", err, "approval", id.String())
		return
	}

	res, err := h.svc.ResolveApproval(r.Context(), tenantID, id, decision, req.ActorID, req.Reason)
	if err != nil {
		h.failErr(w, r, resolveMessage(err), err, "approval", id.String())
		return
	}
	respondJSON(w, http.StatusOK, ResolveResponse{OK: true, Status: res.Status, Message: res.Message})
}

func resolveMessage(err error) string {
	switch statusFor(err) {
	case http.StatusNotFound:
		return "approval record not found"
	case http.StatusConflict:
		return "approval record already resolved"
	case http.StatusGone:
		return "approval record expired"
	}
	return "failed to resolve approval record"
}
