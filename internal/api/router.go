/*-------------------------------------------------------------------------
 *
 * router.go
 *    Route table for the grow HTTP API
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/router.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rakshittt/grow/internal/metrics"
)

/* NewRouter wires every route and the middleware chain */
func NewRouter(h *Handlers, cronSecret string) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(RecoveryMiddleware)
	router.Use(CORSMiddleware)
	router.Use(LoggingMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, NewError(http.StatusMethodNotAllowed, "method not allowed", nil))
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, WrapError(ErrNotFound, r.Header.Get("X-Request-ID")))
	})

	/* preflight only reaches the middleware chain through a matched route */
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/rules", h.CreateRule).Methods("POST")
	apiRouter.HandleFunc("/rules", h.ListRules).Methods("GET")
	apiRouter.HandleFunc("/rules/{id}", h.GetRule).Methods("GET")
	apiRouter.HandleFunc("/rules/{id}", h.UpdateRule).Methods("PUT")
	apiRouter.HandleFunc("/rules/{id}", h.DeleteRule).Methods("DELETE")
	apiRouter.HandleFunc("/rules/{id}/status", h.UpdateRuleStatus).Methods("PUT")
	apiRouter.HandleFunc("/rules/{id}/run", h.RunRule).Methods("POST")

	apiRouter.HandleFunc("/trackers", h.CreateTracker).Methods("POST")
	apiRouter.HandleFunc("/trackers", h.ListTrackers).Methods("GET")
	apiRouter.HandleFunc("/trackers/{id}", h.GetTracker).Methods("GET")
	apiRouter.HandleFunc("/trackers/{id}", h.UpdateTracker).Methods("PUT")
	apiRouter.HandleFunc("/trackers/{id}", h.DeleteTracker).Methods("DELETE")
	apiRouter.HandleFunc("/trackers/{id}/status", h.UpdateTrackerStatus).Methods("PUT")
	apiRouter.HandleFunc("/trackers/{id}/run", h.RunTracker).Methods("POST")

	apiRouter.HandleFunc("/approvals", h.ListApprovals).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}", h.GetApproval).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}", h.ResolveApproval).Methods("PATCH")

	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")

	cronRouter := apiRouter.PathPrefix("/cron").Subrouter()
	cronRouter.Use(CronAuthMiddleware(cronSecret))
	cronRouter.HandleFunc("/optimizer", h.CronOptimizer).Methods("POST")
	cronRouter.HandleFunc("/spy", h.CronSpy).Methods("POST")

	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	return router
}
