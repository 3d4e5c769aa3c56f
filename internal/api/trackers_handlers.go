/*-------------------------------------------------------------------------
 *
 * trackers_handlers.go
 *    API handlers for competitor spy trackers
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/trackers_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
)

const (
	defaultCountryCode      = "US"
	defaultMinLongevityDays = 7
	defaultMaxResults       = 50
	defaultRunIntervalHours = 168
)

/* TrackerRequest creates a tracker, or on PUT edits the fields present */
type TrackerRequest struct {
	Name              *string  `json:"name" validate:"omitnil,min=1,max=200"`
	CompetitorName    *string  `json:"competitor_name" validate:"omitnil,min=1,max=200"`
	CompetitorPageURL *string  `json:"competitor_page_url" validate:"omitempty,url,max=2048"`
	CountryCode       *string  `json:"country_code" validate:"omitnil,len=2,alpha"`
	SearchTerms       []string `json:"search_terms" validate:"omitempty,max=20,dive,required,max=100"`
	MinLongevityDays  *int     `json:"min_longevity_days" validate:"omitnil,min=0,max=365"`
	MaxResults        *int     `json:"max_results" validate:"omitnil,min=1,max=500"`
	RunIntervalHours  *int     `json:"run_interval_hours" validate:"omitnil,min=1,max=8760"`
}

func (req *TrackerRequest) apply(t *db.Tracker) {
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.CompetitorName != nil {
		t.CompetitorName = *req.CompetitorName
	}
	if req.CompetitorPageURL != nil {
		if *req.CompetitorPageURL == "" {
			t.CompetitorPageURL = nil
		} else {
			u := *req.CompetitorPageURL
			t.CompetitorPageURL = &u
		}
	}
	if req.CountryCode != nil {
		t.CountryCode = strings.ToUpper(*req.CountryCode)
	}
	if req.SearchTerms != nil {
		t.SearchTerms = pq.StringArray(req.SearchTerms)
	}
	if req.MinLongevityDays != nil {
		t.MinLongevityDays = *req.MinLongevityDays
	}
	if req.MaxResults != nil {
		t.MaxResults = *req.MaxResults
	}
	if req.RunIntervalHours != nil {
		t.RunIntervalHours = *req.RunIntervalHours
	}
}

func newTracker(agencyID uuid.UUID) *db.Tracker {
	return &db.Tracker{
		AgencyID:         agencyID,
		CountryCode:      defaultCountryCode,
		SearchTerms:      pq.StringArray{},
		MinLongevityDays: defaultMinLongevityDays,
		MaxResults:       defaultMaxResults,
		RunIntervalHours: defaultRunIntervalHours,
		Status:           db.StatusActive,
	}
}

func (h *Handlers) CreateTracker(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req TrackerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "tracker creation failed: invalid request", err, "tracker", "")
		return
	}
	if req.Name == nil || req.CompetitorName == nil {
		h.fail(w, r, http.StatusBadRequest, "tracker creation failed: name and competitor_name are required", nil, "tracker", "")
		return
	}

	tracker := newTracker(tenantID)
	req.apply(tracker)
	if err := h.store.CreateTracker(r.Context(), tracker); err != nil {
		h.failErr(w, r, "tracker creation failed", err, "tracker", "")
		return
	}
	metrics.InfoWithContext(r.Context(), "Tracker created", map[string]interface{}{
		"tracker_id": tracker.ID.String(),
		"agency_id":  tenantID.String(),
		"competitor": tracker.CompetitorName,
	})
	respondJSON(w, http.StatusCreated, tracker)
}

func (h *Handlers) ListTrackers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	status, err := statusFilter(r)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid status filter", err, "tracker", "")
		return
	}

	trackers, err := h.store.ListTrackers(r.Context(), tenantID, status)
	if err != nil {
		h.failErr(w, r, "failed to list trackers", err, "tracker", "")
		return
	}
	if trackers == nil {
		trackers = []db.Tracker{}
	}
	respondJSON(w, http.StatusOK, trackers)
}

func (h *Handlers) GetTracker(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "tracker")
	if !ok {
		return
	}
	tracker, err := h.store.GetTracker(r.Context(), tenantID, id)
	if err != nil {
		h.failErr(w, r, "tracker not found", err, "tracker", id.String())
		return
	}
	respondJSON(w, http.StatusOK, tracker)
}

func (h *Handlers) UpdateTracker(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "tracker")
	if !ok {
		return
	}

	var req TrackerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "tracker update failed: invalid request", err, "tracker", id.String())
		return
	}

	tracker, err := h.store.GetTracker(r.Context(), tenantID, id)
	if err != nil {
		h.failErr(w, r, "tracker not found", err, "tracker", id.String())
		return
	}
	if tracker.Status == db.StatusArchived {
		h.fail(w, r, http.StatusConflict, "tracker is archived", nil, "tracker", id.String())
		return
	}

	req.apply(tracker)
	if err := h.store.UpdateTracker(r.Context(), tracker); err != nil {
		h.failErr(w, r, "tracker update failed", err, "tracker", id.String())
		return
	}
	respondJSON(w, http.StatusOK, tracker)
}

func (h *Handlers) UpdateTrackerStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "tracker")
	if !ok {
		return
	}
	var req StatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid status", err, "tracker", id.String())
		return
	}

	changed, err := h.store.UpdateTrackerStatus(r.Context(), tenantID, id, req.Status)
	if err != nil {
		h.failErr(w, r, "tracker status update failed", err, "tracker", id.String())
		return
	}
	if !changed {
		h.unchanged(w, r, "tracker", id, func() (string, error) {
			tracker, err := h.store.GetTracker(r.Context(), tenantID, id)
			if err != nil {
				return "", err
			}
			return tracker.Status, nil
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "status": req.Status})
}

func (h *Handlers) DeleteTracker(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "tracker")
	if !ok {
		return
	}
	if _, err := h.store.GetTracker(r.Context(), tenantID, id); err != nil {
		h.failErr(w, r, "tracker not found", err, "tracker", id.String())
		return
	}

	open, err := h.store.CountOpenApprovalsForTracker(r.Context(), id)
	if err != nil {
		h.failErr(w, r, "tracker archive failed", err, "tracker", id.String())
		return
	}
	if open > 0 {
		h.fail(w, r, http.StatusConflict, "tracker has open approval records", fmt.Errorf("%d open approval record(s)", open), "tracker", id.String())
		return
	}

	changed, err := h.store.UpdateTrackerStatus(r.Context(), tenantID, id, db.StatusArchived)
	if err != nil {
		h.failErr(w, r, "tracker archive failed", err, "tracker", id.String())
		return
	}
	if !changed {
		h.fail(w, r, http.StatusConflict, "tracker is already archived", nil, "tracker", id.String())
		return
	}
	metrics.InfoWithContext(r.Context(), "Tracker archived", map[string]interface{}{"tracker_id": id.String()})
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "status": db.StatusArchived})
}

/* RunTracker starts a spy run now; the scrape is polled to completion before responding */
func (h *Handlers) RunTracker(w http.ResponseWriter, r *http.Request) {
	h.runSubject(w, r, agents.KindSpy, "tracker", func(tenantID, id uuid.UUID) (string, error) {
		tracker, err := h.store.GetTracker(r.Context(), tenantID, id)
		if err != nil {
			return "", err
		}
		return tracker.Status, nil
	})
}
