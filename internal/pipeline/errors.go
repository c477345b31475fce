package pipeline

import (
	"fmt"

	"github.com/caseworks/mysteryforge/internal/model"
)

// PipelineFailure is returned by Orchestrator.Start and Orchestrator.Resume when a stage exceeds
// its retry budget (§4.1, §7).
type PipelineFailure struct {
	Stage      model.Stage
	Reason     string
	LastErrors []string
}

func (e *PipelineFailure) Error() string {
	return fmt.Sprintf("pipeline failed at stage %s: %s (errors: %v)", e.Stage, e.Reason, e.LastErrors)
}

// FatalStageError marks an invariant failure that can never be
// resolved by retrying the generative stage again — a programming bug
// or an unreachable-graph condition (§7: "Post-enforcement invariant
// failure", "Reachability unreachable after bridging", "Optimal-path
// unsolvable").
type FatalStageError struct {
	Stage model.Stage
	Msg   string
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("fatal error in stage %s: %s", e.Stage, e.Msg)
}

// InputValidationError marks a run request rejected at entry (§7:
// "Schema validation on input").
type InputValidationError struct {
	Msg string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid run input: %s", e.Msg)
}
