/*-------------------------------------------------------------------------
 *
 * prometheus.go
 *    Prometheus collectors
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/metrics/prometheus.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* Request metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	/* Pipeline metrics */
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_pipeline_runs_total",
			Help: "Pipeline invocations by outcome (completed, suspended, failed)",
		},
		[]string{"pipeline", "status"},
	)

	pipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grow_pipeline_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"pipeline", "step"},
	)

	guardrailRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_guardrail_rejections_total",
			Help: "Proposed actions dropped by guardrails",
		},
		[]string{"action_kind"},
	)

	approvalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_approvals_total",
			Help: "Approval record status transitions",
		},
		[]string{"transition"},
	)

	/* Collaborator metrics */
	externalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_external_calls_total",
			Help: "Calls to external collaborators",
		},
		[]string{"client", "operation", "status"},
	)

	schedulerRunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grow_scheduler_runs_started_total",
			Help: "Runs started by the scheduler",
		},
		[]string{"pipeline", "status"},
	)

	/* Database metrics */
	dbPoolOpenConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grow_db_pool_open_connections",
			Help: "Number of open database connections",
		},
		[]string{"database"},
	)

	dbPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grow_db_pool_idle_connections",
			Help: "Number of idle database connections",
		},
		[]string{"database"},
	)

	dbPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grow_db_pool_in_use_connections",
			Help: "Number of in-use database connections",
		},
		[]string{"database"},
	)
)

/* RecordHTTPRequest records HTTP request metrics */
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

/* RecordPipelineRun records the outcome of one engine invocation */
func RecordPipelineRun(pipeline, status string) {
	pipelineRunsTotal.WithLabelValues(pipeline, status).Inc()
}

/* RecordStepDuration records how long a single step took */
func RecordStepDuration(pipeline, step string, duration time.Duration) {
	pipelineStepDuration.WithLabelValues(pipeline, step).Observe(duration.Seconds())
}

/* RecordGuardrailRejection counts one action dropped by guardrails */
func RecordGuardrailRejection(actionKind string) {
	guardrailRejectionsTotal.WithLabelValues(actionKind).Inc()
}

/* RecordApprovalTransition counts approval record transitions, e.g. "pending->approved" */
func RecordApprovalTransition(transition string) {
	approvalTransitionsTotal.WithLabelValues(transition).Inc()
}

/* RecordExternalCall counts a collaborator call */
func RecordExternalCall(client, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	externalCallsTotal.WithLabelValues(client, operation, status).Inc()
}

/* RecordSchedulerStart counts runs kicked off by the scheduler */
func RecordSchedulerStart(pipeline string, err error) {
	status := "started"
	if err != nil {
		status = "error"
	}
	schedulerRunsStarted.WithLabelValues(pipeline, status).Inc()
}

/* RecordDBPoolStats records database pool statistics */
func RecordDBPoolStats(database string, openConns, idleConns, inUse int) {
	dbPoolOpenConns.WithLabelValues(database).Set(float64(openConns))
	dbPoolIdleConns.WithLabelValues(database).Set(float64(idleConns))
	dbPoolInUseConns.WithLabelValues(database).Set(float64(inUse))
}

/* Handler returns the Prometheus metrics handler */
func Handler() http.Handler {
	return promhttp.Handler()
}
