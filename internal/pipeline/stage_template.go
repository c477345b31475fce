package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// settingFlavors seeds variety when the caller gave no crime-type hint
// (§4.2 "a hidden random setting flavor is chosen only when the caller
// supplied no crime-type hint").
var settingFlavors = []string{
	"a fog-bound coastal manor during a storm",
	"a provincial theatre on its closing night",
	"a university archive during a restoration grant audit",
	"a riverboat casino mid-voyage",
	"a vineyard estate during harvest week",
	"a sanatorium wing slated for demolition",
	"a railway hotel snowed in for the season",
	"a shipping magnate's private auction house",
}

// eventCountRange, characterCountRange give the inclusive [min, max]
// per difficulty tier (§4.2).
func eventCountRange(d model.Difficulty) (int, int) {
	switch d {
	case model.DifficultyHard:
		return 8, 10
	case model.DifficultyMedium:
		return 6, 8
	default:
		return 5, 6
	}
}

func characterCountRange(d model.Difficulty) (int, int) {
	switch d {
	case model.DifficultyHard:
		return 8, 12
	case model.DifficultyMedium:
		return 6, 8
	default:
		return 5, 6
	}
}

// TemplateStage is S1: generates the structural blueprint (§4.2).
func TemplateStage() StageDef {
	return StageDef{Name: model.StageTemplate, Deterministic: false, Run: runTemplate}
}

func runTemplate(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	difficulty := state.Input.Difficulty
	if difficulty == "" {
		difficulty = model.DifficultyMedium
	}

	minEvents, maxEvents := eventCountRange(difficulty)
	minChars, maxChars := characterCountRange(difficulty)

	flavor := ""
	if state.Input.CrimeType == "" {
		flavor = settingFlavors[rand.Intn(len(settingFlavors))]
	}

	prompt := buildTemplatePrompt(state.Input, difficulty, minEvents, maxEvents, minChars, maxChars, flavor)

	var tmpl model.Template
	if err := generateJSON(ctx, client, string(model.StageTemplate), prompt, prevErrors, 1.0, 2048, &tmpl); err != nil {
		return nil, model.ValidationResult{}, err
	}

	tmpl.Difficulty = difficulty
	if tmpl.Date == "" {
		tmpl.Date = state.Input.CaseDate
	}

	vr := validateTemplate(tmpl, minEvents, maxEvents, minChars, maxChars)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Template = &tmpl
	return next, vr, nil
}

func buildTemplatePrompt(input model.RunInput, difficulty model.Difficulty, minEvents, maxEvents, minChars, maxChars int, flavor string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design the structural skeleton of a detective mystery case dated %s at difficulty %q.\n", input.CaseDate, difficulty)
	if input.CrimeType != "" {
		fmt.Fprintf(&b, "The crime type is: %s.\n", input.CrimeType)
	} else {
		fmt.Fprintf(&b, "No crime type was specified; set the scene around %s and choose a fitting crime type.\n", flavor)
	}
	fmt.Fprintf(&b, "Produce between %d and %d event slots and between %d and %d character roles.\n", minEvents, maxEvents, minChars, maxChars)
	if difficulty == model.DifficultyMedium {
		b.WriteString("Include exactly one red-herring thread among the event slots.\n")
	}
	if difficulty == model.DifficultyHard {
		b.WriteString("Include multiple misleading threads among the event slots.\n")
	}
	b.WriteString("At least one event slot must have an empty causedBy list (a root event), and at least three event slots must be marked necessity \"required\".\n")
	b.WriteString("Respond with a JSON object with fields: crimeType, title, era, date, atmosphere, mysteryStyle (one of isolated|sprawling|time-limited|layered|parallel), " +
		"narrativeTone (one of grim|cozy|noir|playful|gothic|procedural|satirical|melancholic|naturalistic), " +
		"eventSlots (array of {slotId, description, necessity, causedBy}), characterRoles (array of {roleId, label, description}).")
	return b.String()
}

func validateTemplate(tmpl model.Template, minEvents, maxEvents, minChars, maxChars int) model.ValidationResult {
	var errs []string

	if len(tmpl.EventSlots) < minEvents || len(tmpl.EventSlots) > maxEvents {
		errs = append(errs, fmt.Sprintf("expected between %d and %d event slots, got %d", minEvents, maxEvents, len(tmpl.EventSlots)))
	}
	if len(tmpl.CharacterRoles) < minChars || len(tmpl.CharacterRoles) > maxChars {
		errs = append(errs, fmt.Sprintf("expected between %d and %d character roles, got %d", minChars, maxChars, len(tmpl.CharacterRoles)))
	}

	hasRoot := false
	requiredCount := 0
	slotIDs := make(map[string]bool, len(tmpl.EventSlots))
	for _, slot := range tmpl.EventSlots {
		slotIDs[slot.SlotID] = true
		if len(slot.CausedBy) == 0 {
			hasRoot = true
		}
		if slot.Necessity == model.NecessityRequired {
			requiredCount++
		}
	}
	if !hasRoot {
		errs = append(errs, "no event slot has an empty causedBy list (no root event)")
	}
	if requiredCount < 3 {
		errs = append(errs, fmt.Sprintf("expected at least 3 required event slots, got %d", requiredCount))
	}
	for _, slot := range tmpl.EventSlots {
		for _, cause := range slot.CausedBy {
			if !slotIDs[cause] {
				errs = append(errs, fmt.Sprintf("event slot %s references unknown causedBy slot %s", slot.SlotID, cause))
			}
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
