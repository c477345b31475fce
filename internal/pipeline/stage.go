package pipeline

import (
	"context"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// StageRunner is one attempt at a single named stage. For a
// deterministic stage it is a pure function of state; for a
// generative stage it also consumes the model client and the prior
// attempt's validation errors (the "repair mode" context, §4.1) and
// runs its own validator before returning.
type StageRunner func(
	ctx context.Context,
	state *model.GenerationState,
	client modelclient.Client,
	prevErrors []string,
) (*model.GenerationState, model.ValidationResult, error)

// StageDef binds a stage name to its runner and declares whether it
// participates in the bounded validation-retry loop (generative) or
// is expected to always succeed deterministically (§9's "no stage,
// invariant, or edge case is dropped" list of deterministic stages).
type StageDef struct {
	Name          model.Stage
	Run           StageRunner
	Deterministic bool
}
