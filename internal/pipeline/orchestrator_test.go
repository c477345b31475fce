package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

type fakeDraftStore struct {
	mu    sync.Mutex
	state map[string]*model.GenerationState
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{state: make(map[string]*model.GenerationState)}
}

func (s *fakeDraftStore) Save(_ context.Context, state *model.GenerationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[state.DraftID] = state
	return nil
}

func (s *fakeDraftStore) Load(_ context.Context, draftID string) (*model.GenerationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[draftID]
	if !ok {
		return nil, &ErrDraftNotFound{DraftID: draftID}
	}
	return st, nil
}

func (s *fakeDraftStore) Delete(_ context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, draftID)
	return nil
}

type fakeCaseStore struct {
	mu    sync.Mutex
	cases map[string]*model.Case
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: make(map[string]*model.Case)}
}

func (s *fakeCaseStore) Save(_ context.Context, draftID string, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[draftID] = c
	return nil
}

func identityStage(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
	return state.Clone(), model.OK(), nil
}

func TestOrchestrator_StartDrivesAllStagesAndDeletesDraft(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	stages := []StageDef{
		{
			Name:          model.StageTemplate,
			Deterministic: true,
			Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
				next := state.Clone()
				next.Template = &model.Template{Title: "The Study"}
				return next, model.OK(), nil
			},
		},
		{
			Name:          model.StageStore,
			Deterministic: true,
			Run:           identityStage,
		},
	}

	o := New(stages, nil, nil, drafts, cases, nil, nil)

	state, err := o.Start(context.Background(), "draft-1", model.RunInput{CaseDate: "2026-07-31"})
	require.NoError(t, err)
	assert.Equal(t, "The Study", state.Template.Title)

	_, loadErr := drafts.Load(context.Background(), "draft-1")
	assert.Error(t, loadErr, "a completed run must delete its checkpointed draft")

	assert.Len(t, cases.cases, 1)
}

func TestOrchestrator_FailedDeterministicStageIsFatal(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	stages := []StageDef{
		{
			Name:          model.StageTemplate,
			Deterministic: true,
			Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
				return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageTemplate, Msg: "boom"}
			},
		},
	}

	o := New(stages, nil, nil, drafts, cases, nil, nil)
	_, err := o.Start(context.Background(), "draft-2", model.RunInput{CaseDate: "2026-07-31"})
	require.Error(t, err)

	var pf *PipelineFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, model.StageTemplate, pf.Stage)

	_, loadErr := drafts.Load(context.Background(), "draft-2")
	assert.Error(t, loadErr, "a deterministic stage never checkpoints a failed draft")
}

func TestOrchestrator_GenerativeStageRetriesWithinBudgetThenSucceeds(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	attempts := 0
	stages := []StageDef{
		{
			Name:          model.StageEvents,
			Deterministic: false,
			Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
				attempts++
				next := state.Clone()
				if attempts == 1 {
					return next, model.Invalid("missing required event slot"), nil
				}
				assert.Equal(t, []string{"missing required event slot"}, prevErrors, "a retried attempt must receive the prior validator errors as repair context")
				return next, model.OK(), nil
			},
		},
	}

	o := New(stages, nil, nil, drafts, cases, nil, nil)
	_, err := o.Start(context.Background(), "draft-3", model.RunInput{CaseDate: "2026-07-31"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "exactly one retry (StageRetryBudget=1) should be spent before success")
}

func TestOrchestrator_GenerativeStageExhaustsRetryBudget(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	attempts := 0
	stages := []StageDef{
		{
			Name:          model.StageEvents,
			Deterministic: false,
			Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
				attempts++
				return state.Clone(), model.Invalid("still broken"), nil
			},
		},
	}

	o := New(stages, nil, nil, drafts, cases, nil, nil)
	_, err := o.Start(context.Background(), "draft-4", model.RunInput{CaseDate: "2026-07-31"})
	require.Error(t, err)
	assert.Equal(t, 1+StageRetryBudget, attempts)

	var pf *PipelineFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []string{"still broken"}, pf.LastErrors)
}

func TestOrchestrator_ResumeClearsFromStageOnwards(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	seed := model.NewGenerationState("draft-5", model.RunInput{CaseDate: "2026-07-31"})
	seed.Template = &model.Template{Title: "stale"}
	seed.Events = []model.Event{{EventID: "E1"}}
	seed.Characters = []model.Character{{CharacterID: "char_a"}}
	require.NoError(t, drafts.Save(context.Background(), seed))

	stages := []StageDef{
		{Name: model.StageTemplate, Deterministic: true, Run: identityStage},
		{
			Name:          model.StageEvents,
			Deterministic: true,
			Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
				assert.Empty(t, state.Events, "clearFrom must have wiped events before resuming at this stage")
				next := state.Clone()
				next.Events = []model.Event{{EventID: "E2"}}
				return next, model.OK(), nil
			},
		},
		{Name: model.StageStore, Deterministic: true, Run: identityStage},
	}

	o := New(stages, nil, nil, drafts, cases, nil, nil)
	fromStage := model.StageEvents
	state, err := o.Resume(context.Background(), "draft-5", &fromStage)
	require.NoError(t, err)
	assert.Equal(t, "E2", state.Events[0].EventID)
}

func TestOrchestrator_ResumeRejectsNonResumableStage(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()
	seed := model.NewGenerationState("draft-6", model.RunInput{CaseDate: "2026-07-31"})
	require.NoError(t, drafts.Save(context.Background(), seed))

	o := New(nil, nil, nil, drafts, cases, nil, nil)
	fromStage := model.StageTemplate
	_, err := o.Resume(context.Background(), "draft-6", &fromStage)
	require.Error(t, err)
	var ive *InputValidationError
	assert.ErrorAs(t, err, &ive)
}

func TestOrchestrator_InspectReturnsLiveDraftWithoutAdvancing(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()
	seed := model.NewGenerationState("draft-7", model.RunInput{CaseDate: "2026-07-31"})
	seed.Template = &model.Template{Title: "mid-run"}
	require.NoError(t, drafts.Save(context.Background(), seed))

	o := New(nil, nil, nil, drafts, cases, nil, nil)
	state, err := o.Inspect(context.Background(), "draft-7")
	require.NoError(t, err)
	assert.Equal(t, "mid-run", state.Template.Title)
}

func TestOrchestrator_RunsStageWithAliasedModelConfig(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	var defaultCalls, aliasCalls int
	stages := []StageDef{
		{
			Name:          model.StageEvents,
			Deterministic: true,
			Run: func(_ context.Context, state *model.GenerationState, client modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
				_, err := client.Generate(context.Background(), modelclient.GenerateRequest{StageName: string(model.StageEvents)})
				require.NoError(t, err)
				return state.Clone(), model.OK(), nil
			},
		},
		{Name: model.StageStore, Deterministic: true, Run: identityStage},
	}

	aliasClient := &countingClient{calls: &aliasCalls}
	aliasFactory := func(alias model.ModelAlias) (modelclient.Client, error) {
		assert.Equal(t, "fast", alias.Model)
		return aliasClient, nil
	}

	o := New(stages, &countingClient{calls: &defaultCalls}, aliasFactory, drafts, cases, nil, nil)
	input := model.RunInput{
		CaseDate:    "2026-07-31",
		ModelConfig: map[string]model.ModelAlias{string(model.StageEvents): {Provider: "openai", Model: "fast"}},
	}
	_, err := o.Start(context.Background(), "draft-8", input)
	require.NoError(t, err)

	assert.Equal(t, 1, aliasCalls, "the aliased stage must route through its configured client")
	assert.Equal(t, 0, defaultCalls, "a stage with an alias configured must never fall through to the default client")
}

type countingClient struct {
	calls *int
}

func (c *countingClient) Generate(_ context.Context, _ modelclient.GenerateRequest) (*modelclient.GenerateResponse, error) {
	*c.calls++
	return &modelclient.GenerateResponse{RawText: "{}"}, nil
}

func TestOrchestrator_InspectUnknownDraftReturnsNotFound(t *testing.T) {
	drafts := newFakeDraftStore()
	cases := newFakeCaseStore()

	o := New(nil, nil, nil, drafts, cases, nil, nil)
	_, err := o.Inspect(context.Background(), "missing")
	require.Error(t, err)
	var notFound *ErrDraftNotFound
	assert.ErrorAs(t, err, &notFound)
}
