package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// FactDescStage is S6+S6v: gives every fact skeleton a description and
// category, and checks the merge is faithful to the skeleton (§4.8).
func FactDescStage() StageDef {
	return StageDef{Name: model.StageFactDesc, Deterministic: false, Run: runFactDesc}
}

type factDescContent struct {
	Description string             `json:"description"`
	Category    model.FactCategory `json:"category"`
}

type factDescResponse struct {
	Facts map[string]factDescContent `json:"facts"`
}

func runFactDesc(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.FactSkeletons) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactDesc, Msg: "no fact skeletons in state"}
	}

	prompt := buildFactDescPrompt(state.FactSkeletons)

	var resp factDescResponse
	if err := generateJSON(ctx, client, string(model.StageFactDesc), prompt, prevErrors, 1.0, 6144, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	facts := make([]model.Fact, 0, len(state.FactSkeletons))
	for _, skeleton := range state.FactSkeletons {
		content := resp.Facts[skeleton.FactID]
		facts = append(facts, model.Fact{
			FactID:      skeleton.FactID,
			Description: content.Description,
			Category:    content.Category,
			Subjects:    skeleton.Subjects,
			Veracity:    skeleton.Veracity,
		})
	}

	validIDs := make(map[string]bool, len(state.Characters)+len(state.Locations))
	for _, c := range state.Characters {
		validIDs[c.CharacterID] = true
	}
	for _, l := range state.Locations {
		validIDs[l.LocationID] = true
	}

	vr := validateFacts(facts, state.FactSkeletons, resp.Facts, validIDs)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Facts = facts
	return next, vr, nil
}

func buildFactDescPrompt(skeletons []model.FactSkeleton) string {
	var b strings.Builder
	b.WriteString("Write a natural-language description and assign a category for each fact below. " +
		"Category must be one of motive|means|opportunity|alibi|relationship|timeline|physical_evidence|background|person|place.\n\n")
	for _, s := range skeletons {
		truth := "true"
		if !s.Veracity {
			truth = "false (this is a lie, a misconception, or a denial — word it as something someone could believe or claim)"
		}
		fmt.Fprintf(&b, "- factId=%s, subjects=%s, veracity=%s, origin=%s\n", s.FactID, strings.Join(s.Subjects, ","), truth, s.Source.Kind)
	}
	b.WriteString("\nRespond with a JSON object: {\"facts\": {factId: {description, category}, ...}} covering every fact id listed above.")
	return b.String()
}

func validateFacts(facts []model.Fact, skeletons []model.FactSkeleton, responses map[string]factDescContent, validIDs map[string]bool) model.ValidationResult {
	var errs []string

	for _, skeleton := range skeletons {
		content, ok := responses[skeleton.FactID]
		if !ok {
			errs = append(errs, fmt.Sprintf("fact %s has no matching generated output", skeleton.FactID))
			continue
		}
		if !model.ValidFactCategories[content.Category] {
			errs = append(errs, fmt.Sprintf("fact %s has invalid category %q", skeleton.FactID, content.Category))
		}
		for _, subject := range skeleton.Subjects {
			if !validIDs[subject] {
				errs = append(errs, fmt.Sprintf("fact %s has subject %s that is not a valid character or location", skeleton.FactID, subject))
			}
		}
	}

	skeletonIDs := make(map[string]bool, len(skeletons))
	for _, s := range skeletons {
		skeletonIDs[s.FactID] = true
	}
	var unexpected []string
	for factID := range responses {
		if !skeletonIDs[factID] {
			unexpected = append(unexpected, factID)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		errs = append(errs, fmt.Sprintf("generated output names fact ids not present in the skeleton list: %s", strings.Join(unexpected, ", ")))
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
