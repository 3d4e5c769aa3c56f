/*-------------------------------------------------------------------------
 *
 * pipeline.go
 *    Spy pipeline definition
 *
 *    trigger_scrape -> poll_status (loops) -> fetch_results -> analyze
 *      -> persist_report -> deliver_report -> end
 *
 * Any error before persist_report routes to handle_error. The pipeline
 * never suspends.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/spy/pipeline.go
 *
 *-------------------------------------------------------------------------
 */

package spy

import (
	"github.com/rakshittt/grow/internal/clients/scraper"
	"github.com/rakshittt/grow/internal/workflow"
)

const Pipeline = "spy"

const (
	StepTriggerScrape = "trigger_scrape"
	StepPollStatus    = "poll_status"
	StepFetchResults  = "fetch_results"
	StepAnalyze       = "analyze"
	StepPersistReport = "persist_report"
	StepDeliverReport = "deliver_report"
	StepHandleError   = "handle_error"
)

type Engine = workflow.Engine[State, Update]

func NewDefinition(deps Deps) (*workflow.Definition[State, Update], error) {
	s := &steps{deps: deps.withDefaults()}
	return workflow.NewBuilder[State, Update](Pipeline, Apply).
		AddStep(StepTriggerScrape, s.triggerScrape).
		AddStep(StepPollStatus, s.pollStatus).
		AddStep(StepFetchResults, s.fetchResults).
		AddStep(StepAnalyze, s.analyze).
		AddStep(StepPersistReport, s.persistReport).
		AddStep(StepDeliverReport, s.deliverReport).
		AddStep(StepHandleError, s.handleError).
		SetStart(StepTriggerScrape).
		AddConditionalEdge(StepTriggerScrape, onError(StepPollStatus), StepPollStatus, StepHandleError).
		AddConditionalEdge(StepPollStatus, routeAfterPoll, StepPollStatus, StepFetchResults, StepHandleError).
		AddConditionalEdge(StepFetchResults, onError(StepAnalyze), StepAnalyze, StepHandleError).
		AddConditionalEdge(StepAnalyze, onError(StepPersistReport), StepPersistReport, StepHandleError).
		AddEdge(StepPersistReport, StepDeliverReport).
		AddEdge(StepDeliverReport, workflow.End).
		AddEdge(StepHandleError, workflow.End).
		Build()
}

func NewEngine(deps Deps, store workflow.CheckpointStore, locker workflow.Locker, opts ...workflow.Option) (*Engine, error) {
	def, err := NewDefinition(deps)
	if err != nil {
		return nil, err
	}
	return workflow.NewEngine(def, store, locker, opts...), nil
}

func onError(next string) workflow.EdgeFunc[State] {
	return func(s State) string {
		if len(s.Errors) > 0 {
			return StepHandleError
		}
		return next
	}
}

/* poll_status records exhaustion as an error, so only three outcomes remain here */
func routeAfterPoll(s State) string {
	switch {
	case len(s.Errors) > 0:
		return StepHandleError
	case s.ScrapeState == string(scraper.StateSucceeded):
		return StepFetchResults
	}
	return StepPollStatus
}
