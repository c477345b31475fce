// Package pipeline drives the fixed stage sequence that turns a
// RunInput into a finished Case (§2, §4). It is the generalization of
// the teacher's DAGExecutor: instead of waves of independent workflow
// nodes, a single linear sequence of generative/deterministic stages,
// each retried against its own validator's feedback rather than a
// generic node retry policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
	"github.com/caseworks/mysteryforge/internal/observer"
)

// AliasFactory builds the Client for one RunInput.ModelConfig entry,
// resolving a run's per-stage model aliases (§6) into callable clients.
type AliasFactory func(model.ModelAlias) (modelclient.Client, error)

// Orchestrator drives StageOrder to completion, checkpointing after
// every successful stage so a crash or a cancelled request can resume
// from the last completed stage (§3 "Ownership", §6 "Resume input").
type Orchestrator struct {
	stages       []StageDef
	client       modelclient.Client
	aliasFactory AliasFactory
	drafts       DraftStore
	cases        CaseStore
	obs          *observer.Manager
	log          *logger.Logger
}

// New builds an Orchestrator over the given stage table, in StageOrder.
// aliasFactory may be nil, in which case every run uses client
// directly regardless of any modelConfig aliases it requests.
func New(stages []StageDef, client modelclient.Client, aliasFactory AliasFactory, drafts DraftStore, cases CaseStore, obs *observer.Manager, log *logger.Logger) *Orchestrator {
	return &Orchestrator{stages: stages, client: client, aliasFactory: aliasFactory, drafts: drafts, cases: cases, obs: obs, log: log}
}

// resolveClient builds the per-run Client: the plain default when a
// run carries no modelConfig aliases (or the Orchestrator has no
// aliasFactory), otherwise an AliasedClient routing each aliased
// stage name to its own client and falling back to the default for
// every other stage (§6 "modelConfig").
func (o *Orchestrator) resolveClient(aliases map[string]model.ModelAlias) (modelclient.Client, error) {
	if len(aliases) == 0 || o.aliasFactory == nil {
		return o.client, nil
	}

	resolved := make(map[string]modelclient.Client, len(aliases))
	for stageName, alias := range aliases {
		c, err := o.aliasFactory(alias)
		if err != nil {
			return nil, fmt.Errorf("failed to build model client for stage alias %s: %w", stageName, err)
		}
		resolved[stageName] = c
	}
	return modelclient.NewAliasedClient(o.client, resolved), nil
}

// Start begins a brand new run (§6 "Run input").
func (o *Orchestrator) Start(ctx context.Context, draftID string, input model.RunInput) (*model.GenerationState, error) {
	state := model.NewGenerationState(draftID, input)
	return o.drive(ctx, state, 0)
}

// Resume continues an existing draft (§6 "Resume input"). If fromStage
// is non-nil, every field that stage (and everything after it) would
// have produced is discarded first, so the stage runs again from
// scratch rather than being treated as already complete.
func (o *Orchestrator) Resume(ctx context.Context, draftID string, fromStage *model.Stage) (*model.GenerationState, error) {
	state, err := o.drafts.Load(ctx, draftID)
	if err != nil {
		return nil, err
	}

	startIdx := nextIncompleteStageIndex(state)
	if fromStage != nil {
		if !model.IsResumable(*fromStage) {
			return nil, &InputValidationError{Msg: fmt.Sprintf("stage %s is not a valid resume point", *fromStage)}
		}
		idx := stageIndex(o.stages, *fromStage)
		if idx < 0 {
			return nil, &InputValidationError{Msg: fmt.Sprintf("unknown stage %s", *fromStage)}
		}
		clearFrom(state, *fromStage)
		startIdx = idx
	}

	return o.drive(ctx, state, startIdx)
}

// Inspect returns a draft's current checkpointed state without
// advancing it, the read-only counterpart to Start/Resume that a GET
// request against a still-running draft needs (§6 "Run inspection
// output").
func (o *Orchestrator) Inspect(ctx context.Context, draftID string) (*model.GenerationState, error) {
	return o.drafts.Load(ctx, draftID)
}

func stageIndex(stages []StageDef, name model.Stage) int {
	for i, s := range stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// drive runs stages[from:] in order, checkpointing after each success.
func (o *Orchestrator) drive(ctx context.Context, state *model.GenerationState, from int) (*model.GenerationState, error) {
	o.notify(ctx, observer.Event{Type: observer.EventTypeRunStarted, DraftID: state.DraftID, Timestamp: time.Now()})

	client, err := o.resolveClient(state.Input.ModelConfig)
	if err != nil {
		o.notify(ctx, observer.Event{Type: observer.EventTypeRunFailed, DraftID: state.DraftID, Timestamp: time.Now()})
		return nil, err
	}

	for i := from; i < len(o.stages); i++ {
		def := o.stages[i]

		started := time.Now()
		o.notify(ctx, observer.Event{
			Type: observer.EventTypeStageStarted, DraftID: state.DraftID, Timestamp: started,
			Stage: &def.Name,
		})

		next, err := o.runStage(ctx, state, def, client)
		durationMs := time.Since(started).Milliseconds()
		if err != nil {
			o.notify(ctx, observer.Event{
				Type: observer.EventTypeStageFailed, DraftID: state.DraftID, Timestamp: time.Now(),
				Stage: &def.Name, DurationMs: &durationMs,
				Errors: failureErrors(err),
			})
			o.notify(ctx, observer.Event{Type: observer.EventTypeRunFailed, DraftID: state.DraftID, Timestamp: time.Now()})
			return nil, err
		}

		state = next
		o.notify(ctx, observer.Event{
			Type: observer.EventTypeStageCompleted, DraftID: state.DraftID, Timestamp: time.Now(),
			Stage: &def.Name, DurationMs: &durationMs,
		})

		if def.Name == model.StageStore {
			if err := o.persistCase(ctx, state); err != nil {
				o.notify(ctx, observer.Event{Type: observer.EventTypeRunFailed, DraftID: state.DraftID, Timestamp: time.Now()})
				return nil, err
			}
			continue
		}
		if err := o.drafts.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to checkpoint draft %s after stage %s: %w", state.DraftID, def.Name, err)
		}
	}

	if err := o.drafts.Delete(ctx, state.DraftID); err != nil && o.log != nil {
		o.log.WarnContext(ctx, "failed to delete completed draft", "draftId", state.DraftID, "error", err)
	}
	o.notify(ctx, observer.Event{Type: observer.EventTypeRunCompleted, DraftID: state.DraftID, Timestamp: time.Now()})
	return state, nil
}

// runStage executes one stage's bounded attempt loop (§4.1). A
// deterministic stage never retries: any error is fatal, since its
// logic is expected to be correct by construction rather than
// probabilistic. A generative stage gets StageRetryBudget extra
// attempts after its first, feeding the prior attempt's validation
// errors (or a transient-failure message) back in as repair context.
func (o *Orchestrator) runStage(ctx context.Context, state *model.GenerationState, def StageDef, client modelclient.Client) (*model.GenerationState, error) {
	maxAttempts := 1
	if !def.Deterministic {
		maxAttempts = 1 + StageRetryBudget
	}

	var prevErrors []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		next, vr, err := def.Run(ctx, state, client, prevErrors)
		if err != nil {
			var fatal *FatalStageError
			if def.Deterministic || errors.As(err, &fatal) {
				return nil, &PipelineFailure{Stage: def.Name, Reason: err.Error()}
			}

			prevErrors = []string{err.Error()}
			state.RetryCounts[def.Name]++
			if attempt == maxAttempts {
				return nil, &PipelineFailure{Stage: def.Name, Reason: "exhausted retries after error", LastErrors: prevErrors}
			}
			o.notifyRetrying(ctx, state.DraftID, def.Name, attempt)
			continue
		}

		if !vr.Valid {
			prevErrors = vr.Errors
			state.RetryCounts[def.Name]++
			next.LastValidation = &vr
			state = next

			if attempt == maxAttempts {
				return nil, &PipelineFailure{Stage: def.Name, Reason: "validation failed", LastErrors: vr.Errors}
			}
			o.notifyRetrying(ctx, state.DraftID, def.Name, attempt)
			continue
		}

		next.LastValidation = nil
		return next, nil
	}

	return nil, &PipelineFailure{Stage: def.Name, Reason: "retry loop exited without a terminal result"}
}

// persistCase assembles the finished Case from the fully-populated
// state and hands it to the case store. Assembly lives here rather
// than in stage_store.go because it is pure data-shaping, not an
// operation with its own invariants to validate.
func (o *Orchestrator) persistCase(ctx context.Context, state *model.GenerationState) error {
	c := &model.Case{
		CaseDate:            state.Input.CaseDate,
		Title:               state.Title,
		Template:            *state.Template,
		Events:              state.Events,
		Characters:          state.Characters,
		Locations:           state.Locations,
		Facts:               state.Facts,
		IntroductionFactIDs: state.IntroductionFactIDs,
		Introduction:        state.Introduction,
		Casebook:            state.Casebook,
		Prose:               state.Prose,
		Questions:           state.Questions,
		OptimalPath:         state.OptimalPath,
	}

	if err := o.cases.Save(ctx, state.DraftID, c); err != nil {
		return fmt.Errorf("failed to persist finished case for draft %s: %w", state.DraftID, err)
	}
	return nil
}

func (o *Orchestrator) notifyRetrying(ctx context.Context, draftID string, stage model.Stage, attempt int) {
	o.notify(ctx, observer.Event{
		Type: observer.EventTypeStageRetrying, DraftID: draftID, Timestamp: time.Now(),
		Stage: &stage, RetryCount: &attempt,
	})
}

func (o *Orchestrator) notify(ctx context.Context, event observer.Event) {
	if o.obs == nil {
		return
	}
	o.obs.Notify(ctx, event)
}

func failureErrors(err error) []string {
	var pf *PipelineFailure
	if errors.As(err, &pf) && len(pf.LastErrors) > 0 {
		return pf.LastErrors
	}
	return []string{err.Error()}
}

// nextIncompleteStageIndex infers the first not-yet-run stage from
// which fields of state are still unset, since GenerationState's
// pointer/slice fields stay nil until their owning stage runs (§3).
func nextIncompleteStageIndex(state *model.GenerationState) int {
	switch {
	case state.Template == nil:
		return indexOf(model.StageTemplate)
	case len(state.Events) == 0:
		return indexOf(model.StageEvents)
	case state.ComputedKnowledge == nil:
		return indexOf(model.StageEventKnowledge)
	case len(state.Characters) == 0:
		return indexOf(model.StageCharacters)
	case len(state.Locations) == 0:
		return indexOf(model.StageLocations)
	case state.FactGraph == nil:
		return indexOf(model.StageFactGraph)
	case len(state.Facts) == 0:
		return indexOf(model.StageFactDesc)
	case state.Introduction == "":
		return indexOf(model.StageIntroduction)
	case len(state.Casebook) == 0:
		return indexOf(model.StageCasebook)
	case len(state.Prose) == 0:
		return indexOf(model.StageProse)
	case len(state.Questions) == 0:
		return indexOf(model.StageQuestions)
	case len(state.OptimalPath) == 0:
		return indexOf(model.StageOptimalPath)
	default:
		return indexOf(model.StageStore)
	}
}

func indexOf(stage model.Stage) int {
	for i, s := range model.StageOrder {
		if s == stage {
			return i
		}
	}
	return len(model.StageOrder)
}

// clearFrom discards every field produced by stage or any stage after
// it, so Resume re-derives them instead of treating stale data as done.
func clearFrom(state *model.GenerationState, stage model.Stage) {
	idx := indexOf(stage)
	clear := func(s model.Stage) bool { return indexOf(s) >= idx }

	if clear(model.StageTemplate) {
		state.Template = nil
	}
	if clear(model.StageEvents) {
		state.Events = nil
	}
	if clear(model.StageEventKnowledge) {
		state.ComputedKnowledge = nil
	}
	if clear(model.StageCharacters) {
		state.Characters = nil
		state.RoleMapping = nil
	}
	if clear(model.StageLocations) {
		state.Locations = nil
	}
	if clear(model.StageFactGraph) {
		state.FactSkeletons = nil
		state.FactGraph = nil
	}
	if clear(model.StageFactDesc) {
		state.Facts = nil
	}
	if clear(model.StageIntroduction) {
		state.IntroductionFactIDs = nil
		state.Introduction = ""
		state.Title = ""
	}
	if clear(model.StageCasebook) {
		state.Casebook = nil
		state.ReachableFactIDs = nil
	}
	if clear(model.StageProse) {
		state.Prose = nil
	}
	if clear(model.StageQuestions) {
		state.Questions = nil
	}
	if clear(model.StageOptimalPath) {
		state.OptimalPath = nil
	}
	state.LastValidation = nil
}
