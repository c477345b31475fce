package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// CharactersStage is S3+S3v: generates a character per role, enforces
// the S2k knowledge baseline, then rewrites events from role ids to
// character ids (§4.5).
func CharactersStage() StageDef {
	return StageDef{Name: model.StageCharacters, Deterministic: false, Run: runCharacters}
}

type characterContent struct {
	RoleID       string                            `json:"roleId"`
	Name         string                            `json:"name"`
	MysteryRole  string                            `json:"mysteryRole"`
	SocietalRole string                            `json:"societalRole"`
	Description  string                            `json:"description"`
	Motivations  []string                          `json:"motivations"`
	Knowledge    map[string]model.KnowledgeStatus `json:"knowledge"`
	Tone         model.ToneProfile                `json:"tone"`
}

type charactersResponse struct {
	Characters []characterContent `json:"characters"`
}

func runCharacters(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if state.Template == nil || state.ComputedKnowledge == nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageCharacters, Msg: "template or computed knowledge missing from state"}
	}

	prompt := buildCharactersPrompt(*state.Template, state.ComputedKnowledge.RoleKnowledge)

	var resp charactersResponse
	if err := generateJSON(ctx, client, string(model.StageCharacters), prompt, prevErrors, 1.0, 4096, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	byRole := make(map[string]characterContent, len(resp.Characters))
	for _, c := range resp.Characters {
		byRole[c.RoleID] = c
	}

	roleMapping := make(map[string]string, len(state.Template.CharacterRoles))
	characters := make([]model.Character, 0, len(state.Template.CharacterRoles))

	for _, role := range state.Template.CharacterRoles {
		content := byRole[role.RoleID]
		charID := model.NewCharacterID()
		roleMapping[role.RoleID] = charID

		knowledge := enforceBaseline(content.Knowledge, state.ComputedKnowledge.RoleKnowledge[role.RoleID])

		name := content.Name
		if name == "" {
			name = role.Label
		}

		characters = append(characters, model.Character{
			CharacterID:  charID,
			Name:         name,
			MysteryRole:  content.MysteryRole,
			SocietalRole: content.SocietalRole,
			Description:  content.Description,
			Motivations:  content.Motivations,
			Knowledge:    knowledge,
			Tone:         content.Tone,
		})
	}

	rewrittenEvents := rewriteEventsWithRoleMapping(state.Events, roleMapping)

	vr := validateCharacters(characters, rewrittenEvents)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Characters = characters
	next.RoleMapping = roleMapping
	next.Events = rewrittenEvents
	return next, vr, nil
}

// enforceBaseline applies §4.5's post-processing rules: baseline
// knows(factId) entries are authoritative unless the generator chose a
// valid downgrade; any generator-invented knows entry not in the
// baseline is stripped (believes entries for false facts survive,
// since those never appear in the baseline at all).
func enforceBaseline(generated map[string]model.KnowledgeStatus, baseline map[string]model.KnowledgeStatus) map[string]model.KnowledgeStatus {
	out := make(map[string]model.KnowledgeStatus, len(generated)+len(baseline))

	for factID, status := range generated {
		if !model.ValidKnowledgeStatuses[status] {
			continue
		}
		if status == model.StatusKnows {
			if _, inBaseline := baseline[factID]; !inBaseline {
				continue // generator cannot invent knowledge
			}
		}
		out[factID] = status
	}

	for factID, status := range baseline {
		if existing, ok := out[factID]; !ok {
			out[factID] = status
		} else if !model.ValidKnowledgeStatuses[existing] {
			out[factID] = status
		}
	}

	return out
}

func rewriteEventsWithRoleMapping(events []model.Event, roleMapping map[string]string) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		rewritten := e
		if charID, ok := roleMapping[e.Agent]; ok {
			rewritten.Agent = charID
		}

		involvement := make(map[string]model.InvolvementType, len(e.Involvement))
		for subject, inv := range e.Involvement {
			charID, ok := roleMapping[subject]
			if !ok {
				charID = subject // left as-is; flagged by validateCharacters below
			}
			involvement[charID] = inv
		}
		rewritten.Involvement = involvement
		out[i] = rewritten
	}
	return out
}

func buildCharactersPrompt(tmpl model.Template, roleKnowledge map[string]map[string]model.KnowledgeStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a character for each role in this case (%q, tone %s).\n", tmpl.Title, tmpl.NarrativeTone)
	for _, role := range tmpl.CharacterRoles {
		fmt.Fprintf(&b, "- roleId=%s (%s): %s\n", role.RoleID, role.Label, role.Description)
		if facts := roleKnowledge[role.RoleID]; len(facts) > 0 {
			b.WriteString("  This character already knows the following fact ids (you may downgrade any to suspects/hides/denies, but may not remove them): ")
			first := true
			for factID := range facts {
				if !first {
					b.WriteString(", ")
				}
				b.WriteString(factID)
				first = false
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nFor each character, give: roleId, name, mysteryRole (their narrative function, e.g. suspect/witness/victim/investigator), " +
		"societalRole (their station in the setting), description, motivations (list), a tone profile {register, vocabularyMarkers, quirk?}, " +
		"and a knowledge map from fact id to one of knows|suspects|hides|denies|believes (you may add believes entries for facts you invent as false beliefs).\n")
	b.WriteString("Respond with a JSON object: {\"characters\": [{roleId, name, mysteryRole, societalRole, description, motivations, tone, knowledge}, ...]}.")
	return b.String()
}

func validateCharacters(characters []model.Character, events []model.Event) model.ValidationResult {
	var errs []string

	charIDs := make(map[string]bool, len(characters))
	for _, c := range characters {
		charIDs[c.CharacterID] = true
		for factID, status := range c.Knowledge {
			if !model.ValidKnowledgeStatuses[status] {
				errs = append(errs, fmt.Sprintf("character %s: fact %s has invalid knowledge status %q", c.CharacterID, factID, status))
			}
		}
	}

	for _, e := range events {
		if !charIDs[e.Agent] {
			errs = append(errs, fmt.Sprintf("event %s: agent %s is not a valid character id", e.EventID, e.Agent))
		}
		for subject := range e.Involvement {
			if !charIDs[subject] {
				errs = append(errs, fmt.Sprintf("event %s: involvement subject %s is not a valid character id", e.EventID, subject))
			}
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}
