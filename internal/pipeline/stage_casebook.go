package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// CasebookStage is S8+S8v: builds the deterministic entry skeleton,
// rescues orphaned facts, polishes presentation via the model, then
// validates bipartite reachability from the introduction (§4.10, §4.11).
func CasebookStage() StageDef {
	return StageDef{Name: model.StageCasebook, Deterministic: false, Run: runCasebook}
}

type casebookPolishContent struct {
	Label        string   `json:"label"`
	Address      string   `json:"address"`
	CharacterIDs []string `json:"characterIds"`
}

type casebookPolishResponse struct {
	Entries map[string]casebookPolishContent `json:"entries"`
}

func runCasebook(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Facts) == 0 || state.FactGraph == nil || len(state.IntroductionFactIDs) == 0 {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageCasebook, Msg: "facts, fact graph, or introduction missing from state"}
	}

	entries := buildCasebookSkeleton(state)
	entries = rescueOrphanFacts(entries, state.Facts, state.IntroductionFactIDs)

	prompt := buildCasebookPolishPrompt(entries, state.Facts)
	var resp casebookPolishResponse
	if err := generateJSON(ctx, client, string(model.StageCasebook), prompt, prevErrors, 1.0, 4096, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}
	entries = applyCasebookPolish(entries, resp)

	validIDs := make(map[string]bool, len(state.Characters)+len(state.Locations))
	for _, c := range state.Characters {
		validIDs[c.CharacterID] = true
	}
	for _, l := range state.Locations {
		validIDs[l.LocationID] = true
	}
	factIDs := make(map[string]bool, len(state.Facts))
	for _, f := range state.Facts {
		factIDs[f.FactID] = true
	}

	gc := NewGateCache()
	vr, reachableFacts, err := validateCasebook(gc, entries, state.IntroductionFactIDs, validIDs, factIDs)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageCasebook, Msg: err.Error()}
	}
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Casebook = entries
	next.ReachableFactIDs = reachableFacts
	return next, vr, nil
}

// buildCasebookSkeleton is §4.10's deterministic skeleton phase.
func buildCasebookSkeleton(state *model.GenerationState) []model.CasebookEntry {
	introSet := setOf(state.IntroductionFactIDs)
	mentioning := mentioningFactsIndex(state.Facts)

	var entries []model.CasebookEntry

	sortedChars := append([]model.Character(nil), state.Characters...)
	sort.Slice(sortedChars, func(i, j int) bool { return sortedChars[i].CharacterID < sortedChars[j].CharacterID })

	for _, c := range sortedChars {
		reveals := append([]string(nil), state.FactGraph.SubjectToFacts[c.CharacterID]...)
		gates := computeGates(mentioning[c.CharacterID], introSet, state.IntroductionFactIDs)
		location := scanForLocation(mentioning[c.CharacterID], state.Facts, state.Locations)

		entries = append(entries, model.CasebookEntry{
			EntryID:         fmt.Sprintf("entry_%s", c.CharacterID),
			LocationID:      location,
			CharacterIDs:    []string{c.CharacterID},
			RevealsFactIDs:  reveals,
			RequiresAnyFact: gates,
		})
	}

	sortedLocs := append([]model.Location(nil), state.Locations...)
	sort.Slice(sortedLocs, func(i, j int) bool { return sortedLocs[i].LocationID < sortedLocs[j].LocationID })

	for _, l := range sortedLocs {
		reveals := state.FactGraph.SubjectToFacts[l.LocationID]
		if len(reveals) == 0 {
			continue // dead end, omitted
		}
		gates := computeGates(mentioning[l.LocationID], introSet, state.IntroductionFactIDs)

		entries = append(entries, model.CasebookEntry{
			EntryID:         fmt.Sprintf("entry_%s", l.LocationID),
			LocationID:      l.LocationID,
			CharacterIDs:    nil,
			RevealsFactIDs:  append([]string(nil), reveals...),
			RequiresAnyFact: gates,
		})
	}

	return entries
}

func mentioningFactsIndex(facts []model.Fact) map[string][]string {
	index := make(map[string][]string)
	for _, f := range facts {
		for _, subject := range f.Subjects {
			index[subject] = append(index[subject], f.FactID)
		}
	}
	for subject := range index {
		sort.Strings(index[subject])
	}
	return index
}

// computeGates implements §4.10's three-tier gate fallback.
func computeGates(mentioning []string, introSet map[string]bool, introFactIDs []string) []string {
	var nonIntro, onlyIntro []string
	for _, factID := range mentioning {
		if introSet[factID] {
			onlyIntro = append(onlyIntro, factID)
		} else {
			nonIntro = append(nonIntro, factID)
		}
	}
	if len(nonIntro) > 0 {
		return nonIntro
	}
	if len(onlyIntro) > 0 {
		return onlyIntro
	}
	return []string{introFactIDs[0]}
}

// scanForLocation picks the first location-typed subject among the
// facts mentioning charID.
func scanForLocation(mentioning []string, facts []model.Fact, locations []model.Location) string {
	locationIDs := make(map[string]bool, len(locations))
	for _, l := range locations {
		locationIDs[l.LocationID] = true
	}
	factByID := make(map[string]model.Fact, len(facts))
	for _, f := range facts {
		factByID[f.FactID] = f
	}

	for _, factID := range mentioning {
		for _, subject := range factByID[factID].Subjects {
			if locationIDs[subject] {
				return subject
			}
		}
	}
	return ""
}

// rescueOrphanFacts is §4.10's orphan rescue: any fact not yet revealed
// and not an intro fact is appended to the first entry whose subjects
// overlap, falling back to the first entry overall.
func rescueOrphanFacts(entries []model.CasebookEntry, facts []model.Fact, introFactIDs []string) []model.CasebookEntry {
	if len(entries) == 0 {
		return entries
	}

	revealed := make(map[string]bool)
	for _, e := range entries {
		for _, f := range e.RevealsFactIDs {
			revealed[f] = true
		}
	}
	introSet := setOf(introFactIDs)

	entrySubjects := make([]map[string]bool, len(entries))
	for i, e := range entries {
		s := make(map[string]bool)
		if e.LocationID != "" {
			s[e.LocationID] = true
		}
		for _, c := range e.CharacterIDs {
			s[c] = true
		}
		entrySubjects[i] = s
	}

	sortedFacts := append([]model.Fact(nil), facts...)
	sort.Slice(sortedFacts, func(i, j int) bool { return sortedFacts[i].FactID < sortedFacts[j].FactID })

	for _, f := range sortedFacts {
		if revealed[f.FactID] || introSet[f.FactID] {
			continue
		}
		target := 0
		found := false
		for i := range entries {
			for _, subject := range f.Subjects {
				if entrySubjects[i][subject] {
					target = i
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		entries[target].RevealsFactIDs = append(entries[target].RevealsFactIDs, f.FactID)
		revealed[f.FactID] = true
	}

	return entries
}

func buildCasebookPolishPrompt(entries []model.CasebookEntry, facts []model.Fact) string {
	factByID := make(map[string]model.Fact, len(facts))
	for _, f := range facts {
		factByID[f.FactID] = f
	}

	var b strings.Builder
	b.WriteString("For each casebook entry below, give a presentation label, a street address, and the list of character ids present at the scene " +
		"(you may add characters beyond the one already associated with the entry, if narratively plausible). " +
		"Do not change which facts the entry reveals or requires — only label, address, and characterIds.\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- entryId=%s, location=%s, reveals:\n", e.EntryID, e.LocationID)
		for _, factID := range e.RevealsFactIDs {
			fmt.Fprintf(&b, "    %s: %s\n", factID, factByID[factID].Description)
		}
	}
	b.WriteString("\nRespond with a JSON object: {\"entries\": {entryId: {label, address, characterIds}, ...}}.")
	return b.String()
}

func applyCasebookPolish(entries []model.CasebookEntry, resp casebookPolishResponse) []model.CasebookEntry {
	for i, e := range entries {
		content, ok := resp.Entries[e.EntryID]
		if !ok {
			continue
		}
		entries[i].Label = content.Label
		entries[i].Address = content.Address
		if len(content.CharacterIDs) > 0 {
			entries[i].CharacterIDs = content.CharacterIDs
		}
	}
	return entries
}

// validateCasebook is S8v (§4.11): referential integrity, then
// bipartite BFS reachability from the introduction facts.
func validateCasebook(gc *GateCache, entries []model.CasebookEntry, introFactIDs []string, validIDs map[string]bool, factIDs map[string]bool) (model.ValidationResult, []string, error) {
	var errs []string

	entryIDs := make(map[string]bool, len(entries))
	for _, e := range entries {
		entryIDs[e.EntryID] = true
	}

	for _, id := range introFactIDs {
		if !factIDs[id] {
			errs = append(errs, fmt.Sprintf("introduction fact %s does not exist", id))
		}
	}

	for _, e := range entries {
		if e.LocationID != "" && !validIDs[e.LocationID] {
			errs = append(errs, fmt.Sprintf("entry %s references unknown location %s", e.EntryID, e.LocationID))
		}
		for _, c := range e.CharacterIDs {
			if !validIDs[c] {
				errs = append(errs, fmt.Sprintf("entry %s references unknown character %s", e.EntryID, c))
			}
		}
		if len(e.RequiresAnyFact) == 0 {
			errs = append(errs, fmt.Sprintf("entry %s has no gates", e.EntryID))
		}
		for _, g := range e.RequiresAnyFact {
			if !factIDs[g] {
				errs = append(errs, fmt.Sprintf("entry %s gate references unknown fact %s", e.EntryID, g))
			}
		}
		for _, r := range e.RevealsFactIDs {
			if !factIDs[r] {
				errs = append(errs, fmt.Sprintf("entry %s reveals unknown fact %s", e.EntryID, r))
			}
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...), nil, nil
	}

	reachableFacts := setOf(introFactIDs)
	reachableEntries := make(map[string]bool)

	for {
		progressed := false
		for _, e := range entries {
			if reachableEntries[e.EntryID] {
				continue
			}
			known, err := gc.AnyKnown(e.RequiresAnyFact, reachableFacts)
			if err != nil {
				return model.ValidationResult{}, nil, err
			}
			if known {
				reachableEntries[e.EntryID] = true
				progressed = true
			}
		}
		for _, e := range entries {
			if !reachableEntries[e.EntryID] {
				continue
			}
			for _, factID := range e.RevealsFactIDs {
				if !reachableFacts[factID] {
					reachableFacts[factID] = true
					progressed = true
				}
			}
		}
		if !progressed {
			break
		}
	}

	introSet := setOf(introFactIDs)
	anyGatedOnIntro := false
	for _, e := range entries {
		known, err := gc.AnyKnown(e.RequiresAnyFact, introSet)
		if err != nil {
			return model.ValidationResult{}, nil, err
		}
		if known {
			anyGatedOnIntro = true
			break
		}
	}
	if !anyGatedOnIntro {
		errs = append(errs, "no entry is gated directly on an introduction fact; nowhere to go from the start")
	}

	for factID := range factIDs {
		if !reachableFacts[factID] {
			errs = append(errs, fmt.Sprintf("fact %s is unreachable from the introduction", factID))
		}
	}
	for _, e := range entries {
		if !reachableEntries[e.EntryID] {
			errs = append(errs, fmt.Sprintf("entry %s is unreachable from the introduction", e.EntryID))
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...), nil, nil
	}

	return model.OK(), sortedKeys(reachableFacts), nil
}
