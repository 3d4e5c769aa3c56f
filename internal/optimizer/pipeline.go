/*-------------------------------------------------------------------------
 *
 * pipeline.go
 *    Optimizer pipeline definition
 *
 *    fetch_data -> propose_actions -> apply_guardrails
 *      -> await_approval (suspends while the record is pending)
 *      -> execute | skip -> await_approval | finalize -> end
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/optimizer/pipeline.go
 *
 *-------------------------------------------------------------------------
 */

package optimizer

import (
	"github.com/rakshittt/grow/internal/workflow"
)

const Pipeline = "optimizer"

const (
	StepFetchData       = "fetch_data"
	StepProposeActions  = "propose_actions"
	StepApplyGuardrails = "apply_guardrails"
	StepAwaitApproval   = "await_approval"
	StepExecute         = "execute"
	StepSkip            = "skip"
	StepFinalize        = "finalize"
)

/* MaxErrors is the accumulated error count above which the run stops processing actions */
const MaxErrors = 3

type Engine = workflow.Engine[State, Update]

func NewDefinition(deps Deps) (*workflow.Definition[State, Update], error) {
	s := &steps{deps: deps}
	return workflow.NewBuilder[State, Update](Pipeline, Apply).
		AddStep(StepFetchData, s.fetchData).
		AddStep(StepProposeActions, s.proposeActions).
		AddStep(StepApplyGuardrails, s.applyGuardrails).
		AddStep(StepAwaitApproval, s.awaitApproval).
		AddStep(StepExecute, s.execute).
		AddStep(StepSkip, s.skip).
		AddStep(StepFinalize, s.finalize).
		SetStart(StepFetchData).
		AddEdge(StepFetchData, StepProposeActions).
		AddEdge(StepProposeActions, StepApplyGuardrails).
		AddConditionalEdge(StepApplyGuardrails, routeNextAction, StepAwaitApproval, StepFinalize).
		AddConditionalEdge(StepAwaitApproval, routeDecision, StepExecute, StepSkip).
		AddConditionalEdge(StepExecute, routeNextAction, StepAwaitApproval, StepFinalize).
		AddConditionalEdge(StepSkip, routeNextAction, StepAwaitApproval, StepFinalize).
		AddEdge(StepFinalize, workflow.End).
		Interrupt(StepAwaitApproval, State.Awaiting).
		Build()
}

func NewEngine(deps Deps, store workflow.CheckpointStore, locker workflow.Locker, opts ...workflow.Option) (*Engine, error) {
	def, err := NewDefinition(deps)
	if err != nil {
		return nil, err
	}
	return workflow.NewEngine(def, store, locker, opts...), nil
}

func routeNextAction(s State) string {
	if s.Index >= len(s.Safe) || len(s.Errors) > MaxErrors {
		return StepFinalize
	}
	return StepAwaitApproval
}

func routeDecision(s State) string {
	if s.Decision != nil && s.Decision.Approved {
		return StepExecute
	}
	return StepSkip
}
