package pipeline

import (
	"context"
	"sort"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// EventKnowledgeStage is S2k: derives roleKnowledge and locationReveals
// from the event list, purely by perception rules (§4.4). Deterministic
// — there is nothing here to retry, only a bug to surface as fatal.
func EventKnowledgeStage() StageDef {
	return StageDef{Name: model.StageEventKnowledge, Deterministic: true, Run: runEventKnowledge}
}

func runEventKnowledge(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Events) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageEventKnowledge, Msg: "no events in state"}
	}

	events := append([]model.Event(nil), state.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })

	roleKnowledge := make(map[string]map[string]model.KnowledgeStatus)
	learn := func(role, factID string) {
		if _, ok := roleKnowledge[role]; !ok {
			roleKnowledge[role] = make(map[string]model.KnowledgeStatus)
		}
		roleKnowledge[role][factID] = model.StatusKnows
	}

	for _, e := range events {
		for role, involvement := range e.Involvement {
			for _, reveal := range e.Reveals {
				if channelLearns(involvement, reveal) {
					learn(role, reveal.FactID)
				}
			}
		}
	}

	locationReveals := computeLocationReveals(events)

	next := state.Clone()
	next.ComputedKnowledge = &model.ComputedKnowledge{
		RoleKnowledge:   roleKnowledge,
		LocationReveals: locationReveals,
	}
	return next, model.OK(), nil
}

// channelLearns implements §4.4's involvement → channel table.
func channelLearns(involvement model.InvolvementType, reveal model.EventReveal) bool {
	switch involvement {
	case model.InvolvementAgent, model.InvolvementPresent:
		return true
	case model.InvolvementWitnessVisual:
		return reveal.Visible
	case model.InvolvementWitnessAuditory:
		return reveal.Audible
	case model.InvolvementDiscoveredEvidence:
		return reveal.Physical
	default:
		return false
	}
}

// computeLocationReveals runs cleanup detection: a physical reveal
// marks a fact present at a location; a later reveal of the same fact
// id at the same location with physical=false marks it cleaned up.
// Events are assumed pre-sorted by timestamp by the caller.
func computeLocationReveals(sortedEvents []model.Event) map[string][]string {
	present := make(map[string]map[string]bool) // location -> factId -> present?

	for _, e := range sortedEvents {
		loc := e.Location
		if loc == "" {
			continue
		}
		for _, reveal := range e.Reveals {
			if _, ok := present[loc]; !ok {
				present[loc] = make(map[string]bool)
			}
			if reveal.Physical {
				present[loc][reveal.FactID] = true
			} else if _, seen := present[loc][reveal.FactID]; seen {
				present[loc][reveal.FactID] = false
			}
		}
	}

	out := make(map[string][]string)
	for loc, facts := range present {
		var ids []string
		for factID, isPresent := range facts {
			if isPresent {
				ids = append(ids, factID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		out[loc] = ids
	}
	return out
}
