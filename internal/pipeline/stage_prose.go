package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// ProseStage is S9: writes the scene prose a player reads when they
// visit each casebook entry. Purely additive — there is nothing
// structural left to violate, so this stage has no paired validator
// beyond "every entry got prose."
func ProseStage() StageDef {
	return StageDef{Name: model.StageProse, Deterministic: false, Run: runProse}
}

type proseResponse struct {
	Prose map[string]string `json:"prose"`
}

func runProse(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Casebook) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageProse, Msg: "no casebook entries in state"}
	}

	factByID := make(map[string]model.Fact, len(state.Facts))
	for _, f := range state.Facts {
		factByID[f.FactID] = f
	}

	prompt := buildProsePrompt(state.Casebook, factByID, state.Template)

	var resp proseResponse
	if err := generateJSON(ctx, client, string(model.StageProse), prompt, prevErrors, 1.0, 6144, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	vr := validateProse(resp.Prose, state.Casebook)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Prose = resp.Prose
	return next, vr, nil
}

func buildProsePrompt(entries []model.CasebookEntry, factByID map[string]model.Fact, tmpl *model.Template) string {
	var b strings.Builder
	tone := model.NarrativeTone("procedural")
	if tmpl != nil && tmpl.NarrativeTone != "" {
		tone = tmpl.NarrativeTone
	}
	fmt.Fprintf(&b, "Write the on-scene prose a detective reads when visiting each casebook entry below, in a %s tone. "+
		"Weave in the facts that entry reveals without stating them as a checklist; show, don't enumerate.\n\n", tone)
	for _, e := range entries {
		fmt.Fprintf(&b, "- entryId=%s (%s), reveals:\n", e.EntryID, e.Label)
		for _, factID := range e.RevealsFactIDs {
			fmt.Fprintf(&b, "    %s\n", factByID[factID].Description)
		}
	}
	b.WriteString("\nRespond with a JSON object: {\"prose\": {entryId: \"...\", ...}} covering every entry id above.")
	return b.String()
}

func validateProse(prose map[string]string, entries []model.CasebookEntry) model.ValidationResult {
	var errs []string
	for _, e := range entries {
		text, ok := prose[e.EntryID]
		if !ok || strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Sprintf("entry %s has no prose", e.EntryID))
		}
	}
	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
