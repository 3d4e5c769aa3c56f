/*-------------------------------------------------------------------------
 *
 * runs_handlers.go
 *    Run inspection and scheduler trigger endpoints
 *
 * The cron routes let an external scheduler drive the same dispatch the
 * in-process scheduler performs. Both claim due items before starting
 * them, so they may run side by side.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/runs_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/metrics"
)

type CronResponse struct {
	OK     bool     `json:"ok"`
	Ran    int      `json:"ran"`
	Total  int      `json:"total"`
	Errors []string `json:"errors"`
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	runID := mux.Vars(r)["id"]
	if runID == "" || len(runID) > 200 {
		h.fail(w, r, http.StatusBadRequest, "invalid run id", nil, "run", "")
		return
	}

	info, err := h.svc.Run(r.Context(), tenantID, runID)
	if err != nil {
		h.failErr(w, r, "run not found", err, "run", runID)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handlers) CronOptimizer(w http.ResponseWriter, r *http.Request) {
	h.cron(w, r, agents.KindOptimizer)
}

func (h *Handlers) CronSpy(w http.ResponseWriter, r *http.Request) {
	h.cron(w, r, agents.KindSpy)
}

func (h *Handlers) cron(w http.ResponseWriter, r *http.Request, kind agents.Kind) {
	res, err := h.svc.RunDue(r.Context(), kind, h.now())
	if err != nil {
		h.failErr(w, r, "scheduled dispatch failed", err, "cron", string(kind))
		return
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	metrics.InfoWithContext(r.Context(), "Cron dispatch completed", map[string]interface{}{
		"kind":   string(kind),
		"total":  res.Due,
		"ran":    res.Started,
		"errors": len(errs),
	})
	respondJSON(w, http.StatusOK, CronResponse{OK: true, Ran: res.Started, Total: res.Due, Errors: errs})
}
