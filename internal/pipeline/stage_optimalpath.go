package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// OptimalPathStage is S11: the hard-core deterministic computation of
// the shortest gate-feasible entry sequence that satisfies every
// question (§4.13). No model call; any failure to converge is a
// coherence bug in an earlier stage, not something a retry can fix.
func OptimalPathStage() StageDef {
	return StageDef{Name: model.StageOptimalPath, Deterministic: true, Run: runOptimalPath}
}

func runOptimalPath(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Casebook) == 0 || len(state.Questions) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageOptimalPath, Msg: "casebook or questions missing from state"}
	}

	factByID := make(map[string]model.Fact, len(state.Facts))
	for _, f := range state.Facts {
		factByID[f.FactID] = f
	}

	gc := NewGateCache()
	path, err := computeOptimalPath(gc, state.Casebook, state.Questions, state.IntroductionFactIDs, factByID)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageOptimalPath, Msg: err.Error()}
	}

	if err := replayPath(gc, path, state.Casebook, state.Questions, state.IntroductionFactIDs, factByID); err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageOptimalPath, Msg: fmt.Sprintf("self-check failed: %s", err.Error())}
	}

	next := state.Clone()
	next.OptimalPath = path
	return next, model.OK(), nil
}

// questionSatisfied reports whether q is discoverable given the
// accumulated fact set (§4.13).
func questionSatisfied(q model.Question, discoveredFacts map[string]bool, factByID map[string]model.Fact) bool {
	switch q.Answer.Type {
	case model.AnswerFact:
		for _, id := range q.Answer.AcceptedIDs {
			if discoveredFacts[id] {
				return true
			}
		}
	case model.AnswerPerson, model.AnswerLocation:
		accepted := setOf(q.Answer.AcceptedIDs)
		for factID := range discoveredFacts {
			fact, ok := factByID[factID]
			if !ok {
				continue
			}
			for _, subject := range fact.Subjects {
				if accepted[subject] {
					return true
				}
			}
		}
	}
	return false
}

func computeOptimalPath(
	gc *GateCache,
	entries []model.CasebookEntry,
	questions []model.Question,
	introFactIDs []string,
	factByID map[string]model.Fact,
) ([]string, error) {
	discovered := setOf(introFactIDs)
	visited := make(map[string]bool, len(entries))
	satisfied := make(map[string]bool, len(questions))
	var order []string

	allSatisfied := func() bool {
		for _, q := range questions {
			if !satisfied[q.QuestionID] {
				return false
			}
		}
		return true
	}

	eligible := func() ([]model.CasebookEntry, error) {
		var out []model.CasebookEntry
		for _, e := range entries {
			if visited[e.EntryID] {
				continue
			}
			known, err := gc.AnyKnown(e.RequiresAnyFact, discovered)
			if err != nil {
				return nil, err
			}
			if known {
				out = append(out, e)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
		return out, nil
	}

	withRevealsAdded := func(e model.CasebookEntry) map[string]bool {
		trial := make(map[string]bool, len(discovered)+len(e.RevealsFactIDs))
		for k := range discovered {
			trial[k] = true
		}
		for _, f := range e.RevealsFactIDs {
			trial[f] = true
		}
		return trial
	}

	newlySatisfiedCount := func(e model.CasebookEntry) int {
		trial := withRevealsAdded(e)
		count := 0
		for _, q := range questions {
			if !satisfied[q.QuestionID] && questionSatisfied(q, trial, factByID) {
				count++
			}
		}
		return count
	}

	visit := func(e model.CasebookEntry) {
		visited[e.EntryID] = true
		order = append(order, e.EntryID)
		for _, f := range e.RevealsFactIDs {
			discovered[f] = true
		}
		for _, q := range questions {
			if !satisfied[q.QuestionID] && questionSatisfied(q, discovered, factByID) {
				satisfied[q.QuestionID] = true
			}
		}
	}

	for !allSatisfied() {
		elig, err := eligible()
		if err != nil {
			return nil, err
		}
		if len(elig) == 0 {
			return nil, fmt.Errorf("no eligible entries remain but questions are unsatisfied; instance may be unsolvable")
		}

		best := -1
		bestGain := -1
		bestReveals := -1
		for i, e := range elig {
			gain := newlySatisfiedCount(e)
			if gain > bestGain || (gain == bestGain && len(e.RevealsFactIDs) > bestReveals) {
				best = i
				bestGain = gain
				bestReveals = len(e.RevealsFactIDs)
			}
		}

		if bestGain > 0 {
			visit(elig[best])
			continue
		}

		// Bridge step: pick the entry that newly unlocks the most
		// currently-ineligible entries; tie-break by revealed-fact count.
		ineligibleBefore, err := unvisitedNotEligible(gc, entries, visited, discovered)
		if err != nil {
			return nil, err
		}

		bridgeBest := -1
		bridgeUnlocks := -1
		bridgeReveals := -1
		for i, e := range elig {
			trial := withRevealsAdded(e)
			unlocks := 0
			for _, other := range ineligibleBefore {
				if other.EntryID == e.EntryID {
					continue
				}
				known, err := gc.AnyKnown(other.RequiresAnyFact, trial)
				if err != nil {
					return nil, err
				}
				if known {
					unlocks++
				}
			}
			if unlocks > bridgeUnlocks || (unlocks == bridgeUnlocks && len(e.RevealsFactIDs) > bridgeReveals) {
				bridgeBest = i
				bridgeUnlocks = unlocks
				bridgeReveals = len(e.RevealsFactIDs)
			}
		}

		if bridgeBest == -1 || bridgeUnlocks == 0 {
			return nil, fmt.Errorf("bridge step made zero progress; instance is unsolvable")
		}
		visit(elig[bridgeBest])
	}

	return order, nil
}

func unvisitedNotEligible(gc *GateCache, entries []model.CasebookEntry, visited map[string]bool, discovered map[string]bool) ([]model.CasebookEntry, error) {
	var out []model.CasebookEntry
	for _, e := range entries {
		if visited[e.EntryID] {
			continue
		}
		eligibleNow, err := gc.AnyKnown(e.RequiresAnyFact, discovered)
		if err != nil {
			return nil, err
		}
		if !eligibleNow {
			out = append(out, e)
		}
	}
	return out, nil
}

// replayPath is S11's post-condition self-check: replay the chosen
// path, confirming every entry's gate is satisfied at visit time and
// every question ends satisfied.
func replayPath(
	gc *GateCache,
	path []string,
	entries []model.CasebookEntry,
	questions []model.Question,
	introFactIDs []string,
	factByID map[string]model.Fact,
) error {
	entryByID := make(map[string]model.CasebookEntry, len(entries))
	for _, e := range entries {
		entryByID[e.EntryID] = e
	}

	discovered := setOf(introFactIDs)
	for _, id := range path {
		e, ok := entryByID[id]
		if !ok {
			return fmt.Errorf("path references unknown entry %s", id)
		}
		gateOK, err := gc.AnyKnown(e.RequiresAnyFact, discovered)
		if err != nil {
			return err
		}
		if !gateOK {
			return fmt.Errorf("entry %s visited before any of its gates were discovered", id)
		}
		for _, f := range e.RevealsFactIDs {
			discovered[f] = true
		}
	}

	for _, q := range questions {
		if !questionSatisfied(q, discovered, factByID) {
			return fmt.Errorf("question %q is not satisfied at the end of the path", q.Text)
		}
	}
	return nil
}
