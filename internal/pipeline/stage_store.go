package pipeline

import (
	"context"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// StoreStage is S12: a deterministic pass-through. By the time it
// runs, state already holds everything a finished Case needs;
// Orchestrator.persistCase does the actual assembly and write once
// this stage reports success (§4, "Ownership").
func StoreStage() StageDef {
	return StageDef{Name: model.StageStore, Deterministic: true, Run: runStore}
}

func runStore(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.OptimalPath) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageStore, Msg: "optimal path missing from state"}
	}
	return state, model.OK(), nil
}
