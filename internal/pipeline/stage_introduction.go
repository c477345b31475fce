package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// IntroductionStage is S7: picks 2–4 true-veracity introduction facts
// and writes the opening prose and finalized title (§4.9).
func IntroductionStage() StageDef {
	return StageDef{Name: model.StageIntroduction, Deterministic: false, Run: runIntroduction}
}

type introductionResponse struct {
	IntroductionFactIDs []string `json:"introductionFactIds"`
	Introduction        string   `json:"introduction"`
	Title               string   `json:"title"`
}

func runIntroduction(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Facts) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageIntroduction, Msg: "no facts in state"}
	}

	prompt := buildIntroductionPrompt(state.Facts, state.Title)

	var resp introductionResponse
	if err := generateJSON(ctx, client, string(model.StageIntroduction), prompt, prevErrors, 1.0, 2048, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	vr := validateIntroduction(resp, state.Facts)
	if !vr.Valid {
		return state, vr, nil
	}

	title := resp.Title
	if title == "" && state.Template != nil {
		title = state.Template.Title
	}

	next := state.Clone()
	next.IntroductionFactIDs = resp.IntroductionFactIDs
	next.Introduction = resp.Introduction
	next.Title = title
	return next, vr, nil
}

func buildIntroductionPrompt(facts []model.Fact, fallbackTitle string) string {
	var b strings.Builder
	b.WriteString("Pick 2 to 4 introduction facts and write the opening prose that a detective reads at the start of the case.\n")
	b.WriteString("Every introduction fact id must have veracity true. Choose facts that, between them, point toward at least 2-3 different subjects " +
		"(characters or locations) so the reader has more than one thread to pull on immediately.\n\n")
	b.WriteString("Candidate true facts:\n")
	for _, f := range facts {
		if !f.Veracity {
			continue
		}
		fmt.Fprintf(&b, "- factId=%s (%s): %s\n", f.FactID, f.Category, f.Description)
	}
	fmt.Fprintf(&b, "\nFallback working title: %q (you may finalize a better one).\n", fallbackTitle)
	b.WriteString("Respond with a JSON object: {\"introductionFactIds\": [...], \"introduction\": \"...\", \"title\": \"...\"}.")
	return b.String()
}

func validateIntroduction(resp introductionResponse, facts []model.Fact) model.ValidationResult {
	var errs []string

	veracity := make(map[string]bool, len(facts))
	for _, f := range facts {
		veracity[f.FactID] = f.Veracity
	}

	if len(resp.IntroductionFactIDs) < 2 || len(resp.IntroductionFactIDs) > 4 {
		errs = append(errs, fmt.Sprintf("expected 2 to 4 introduction fact ids, got %d", len(resp.IntroductionFactIDs)))
	}
	for _, id := range resp.IntroductionFactIDs {
		truthy, known := veracity[id]
		if !known {
			errs = append(errs, fmt.Sprintf("introduction fact %s does not exist", id))
		} else if !truthy {
			errs = append(errs, fmt.Sprintf("introduction fact %s has veracity false", id))
		}
	}
	if strings.TrimSpace(resp.Introduction) == "" {
		errs = append(errs, "introduction prose is empty")
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
