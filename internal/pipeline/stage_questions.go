package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// QuestionsStage is S10+S10v: writes the end-of-case quiz and checks
// every answer variant is well-formed and reachable (§4.12).
func QuestionsStage() StageDef {
	return StageDef{Name: model.StageQuestions, Deterministic: false, Run: runQuestions}
}

type questionContent struct {
	Text       string       `json:"text"`
	Answer     model.Answer `json:"answer"`
	Points     int          `json:"points"`
	Difficulty string       `json:"difficulty"`
}

type questionsResponse struct {
	Questions []questionContent `json:"questions"`
}

func runQuestions(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Casebook) == 0 || len(state.ReachableFactIDs) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageQuestions, Msg: "casebook or reachable facts missing from state"}
	}

	prompt := buildQuestionsPrompt(state.Facts, state.ReachableFactIDs)

	var resp questionsResponse
	if err := generateJSON(ctx, client, string(model.StageQuestions), prompt, prevErrors, 1.0, 4096, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	questions := make([]model.Question, 0, len(resp.Questions))
	for _, c := range resp.Questions {
		questions = append(questions, model.Question{
			QuestionID: model.NewQuestionID(),
			Text:       c.Text,
			Answer:     c.Answer,
			Points:     c.Points,
			Difficulty: c.Difficulty,
		})
	}

	validIDs := make(map[string]bool, len(state.Characters)+len(state.Locations))
	for _, ch := range state.Characters {
		validIDs[ch.CharacterID] = true
	}
	for _, l := range state.Locations {
		validIDs[l.LocationID] = true
	}
	factByID := make(map[string]model.Fact, len(state.Facts))
	for _, f := range state.Facts {
		factByID[f.FactID] = f
	}
	reachable := setOf(state.ReachableFactIDs)

	vr := validateQuestions(questions, factByID, validIDs, reachable)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Questions = questions
	return next, vr, nil
}

func buildQuestionsPrompt(facts []model.Fact, reachableFactIDs []string) string {
	reachable := setOf(reachableFactIDs)

	var b strings.Builder
	b.WriteString("Write a set of end-of-case questions that test whether the player correctly identified the culprit and the supporting " +
		"facts. Each question's answer is one of three typed variants:\n" +
		"- type=person: acceptedIds are character ids.\n" +
		"- type=location: acceptedIds are location ids.\n" +
		"- type=fact: acceptedIds are fact ids, factCategory must be set, and every accepted fact must have veracity true.\n" +
		"Only use fact ids from the reachable list below — a player can never discover anything else.\n\n")
	b.WriteString("Reachable true facts available to quote as evidence:\n")
	for _, f := range facts {
		if f.Veracity && reachable[f.FactID] {
			fmt.Fprintf(&b, "- factId=%s (%s): %s\n", f.FactID, f.Category, f.Description)
		}
	}
	b.WriteString("\nRespond with a JSON object: {\"questions\": [{text, points, difficulty, answer: {type, acceptedIds, factCategory?}}, ...]}.")
	return b.String()
}

func validateQuestions(questions []model.Question, factByID map[string]model.Fact, validIDs map[string]bool, reachable map[string]bool) model.ValidationResult {
	var errs []string

	for _, q := range questions {
		a := q.Answer
		if len(a.AcceptedIDs) == 0 {
			errs = append(errs, fmt.Sprintf("question %q has no accepted ids", q.Text))
			continue
		}

		switch a.Type {
		case model.AnswerFact:
			if a.FactCategory == "" {
				errs = append(errs, fmt.Sprintf("question %q: fact answer has no factCategory", q.Text))
			}
			for _, id := range a.AcceptedIDs {
				fact, ok := factByID[id]
				if !ok {
					errs = append(errs, fmt.Sprintf("question %q: accepted id %s is not a known fact", q.Text, id))
					continue
				}
				if !fact.Veracity {
					errs = append(errs, fmt.Sprintf("question %q: accepted fact %s has veracity false", q.Text, id))
				}
				if !reachable[id] {
					errs = append(errs, fmt.Sprintf("question %q: accepted fact %s is not reachable", q.Text, id))
				}
				if fact.Category != a.FactCategory {
					errs = append(errs, fmt.Sprintf("question %q: accepted fact %s has category %q, expected %q", q.Text, id, fact.Category, a.FactCategory))
				}
			}
		case model.AnswerPerson, model.AnswerLocation:
			for _, id := range a.AcceptedIDs {
				if !validIDs[id] {
					errs = append(errs, fmt.Sprintf("question %q: accepted id %s is not a valid %s", q.Text, id, a.Type))
				}
			}
		default:
			errs = append(errs, fmt.Sprintf("question %q has invalid answer type %q", q.Text, a.Type))
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
