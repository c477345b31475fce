package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/model"
)

func baseFactGraphState() *model.GenerationState {
	return &model.GenerationState{
		DraftID: "draft-1",
		Events: []model.Event{
			{
				EventID:   "event_1",
				Timestamp: 1,
				Reveals: []model.EventReveal{
					{FactID: "fact_alibi", Subjects: []string{"char_a"}},
				},
			},
			{
				EventID:   "event_2",
				Timestamp: 2,
				Reveals: []model.EventReveal{
					{FactID: "fact_weapon", Subjects: []string{"char_b", "loc_study"}},
				},
			},
		},
		Characters: []model.Character{
			{CharacterID: "char_a", Knowledge: map[string]model.KnowledgeStatus{
				"fact_alibi":  model.StatusKnows,
				"fact_weapon": model.StatusSuspects,
			}},
			{CharacterID: "char_b", Knowledge: map[string]model.KnowledgeStatus{
				"fact_weapon": model.StatusKnows,
			}},
		},
		ComputedKnowledge: &model.ComputedKnowledge{
			LocationReveals: map[string][]string{
				"loc_study": {"fact_weapon"},
			},
		},
	}
}

func TestFactGraphStage_BuildsReachableGraph(t *testing.T) {
	state := baseFactGraphState()

	next, result, err := runFactGraph(context.Background(), state, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	require.NotNil(t, next.FactGraph)

	allFacts := map[string]bool{}
	for _, s := range next.FactSkeletons {
		allFacts[s.FactID] = true
	}
	allSubjects := map[string]bool{}
	for subject := range next.FactGraph.SubjectToFacts {
		allSubjects[subject] = true
	}

	seed := next.FactSkeletons[0].FactID
	reachableFacts, reachableSubjects := bipartiteBFS(seed, next.FactGraph)
	assert.True(t, supersetOf(reachableFacts, allFacts), "every fact must be reachable from the seed fact")
	assert.True(t, supersetOf(reachableSubjects, allSubjects), "every subject must be reachable from the seed fact")
}

func TestFactGraphStage_CleansSyntheticKnowledgeOnRerun(t *testing.T) {
	state := baseFactGraphState()
	state.Characters[0].Knowledge[model.DeniedFactID("fact_alibi")] = model.StatusKnows
	state.Characters[0].Knowledge["fact_red_herring_char_a"] = model.StatusKnows

	next, _, err := runFactGraph(context.Background(), state, nil, nil)
	require.NoError(t, err)

	for _, c := range next.Characters {
		for factID := range c.Knowledge {
			assert.False(t, model.IsBridgeFact(factID), "bridge facts from a prior run must be stripped before rebuilding")
			if factID != model.DeniedFactID("fact_alibi") {
				assert.False(t, model.IsRedHerringFact(factID) && factID == "fact_red_herring_char_a", "stale red herrings must be stripped before rebuilding")
			}
		}
	}
}

func TestFactGraphStage_AddsDenialSkeletonForDeniedFact(t *testing.T) {
	state := baseFactGraphState()
	state.Characters[1].Knowledge["fact_alibi"] = model.StatusDenies

	next, _, err := runFactGraph(context.Background(), state, nil, nil)
	require.NoError(t, err)

	found := false
	for _, s := range next.FactSkeletons {
		if s.FactID == model.DeniedFactID("fact_alibi") {
			found = true
			assert.False(t, s.Veracity)
			assert.Equal(t, model.SourceDenial, s.Source.Kind)
			assert.Equal(t, "char_b", s.Source.CharacterID)
		}
	}
	assert.True(t, found, "a denied fact must produce a synthetic false skeleton")
}

func TestFactGraphStage_FatalWhenPrerequisiteStateMissing(t *testing.T) {
	state := &model.GenerationState{DraftID: "draft-1"}

	_, _, err := runFactGraph(context.Background(), state, nil, nil)
	require.Error(t, err)
	var fatal *FatalStageError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, model.StageFactGraph, fatal.Stage)
}
