package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

const factGraphSafetyCap = 100

// FactGraphStage is S5: the hard-core deterministic bipartite
// fact/subject graph builder (§4.7). No model call — it only reshapes
// state already in the accumulator — so it never retries; any
// unresolvable defect is fatal.
func FactGraphStage() StageDef {
	return StageDef{Name: model.StageFactGraph, Deterministic: true, Run: runFactGraph}
}

func runFactGraph(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Events) == 0 || len(state.Characters) == 0 || state.ComputedKnowledge == nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactGraph, Msg: "events, characters, or computed knowledge missing from state"}
	}

	characters := cloneCharacters(state.Characters)
	stripSyntheticKnowledge(characters) // clean-on-rerun

	skeletons, err := collectEventRevealSkeletons(state.Events, state.RoleMapping)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactGraph, Msg: err.Error()}
	}
	skeletons = appendDenialSkeletons(skeletons, characters)

	graph, err := buildFactGraphFrom(skeletons, characters, state.ComputedKnowledge.LocationReveals)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactGraph, Msg: err.Error()}
	}

	skeletons, characters, graph, err = ensureReachability(skeletons, characters, graph, state.ComputedKnowledge.LocationReveals)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactGraph, Msg: err.Error()}
	}

	skeletons, characters = synthesizeRedHerrings(skeletons, characters, graph)
	graph, err = buildFactGraphFrom(skeletons, characters, state.ComputedKnowledge.LocationReveals)
	if err != nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageFactGraph, Msg: err.Error()}
	}

	next := state.Clone()
	next.Characters = characters
	next.FactSkeletons = skeletons
	next.FactGraph = graph
	return next, model.OK(), nil
}

func cloneCharacters(in []model.Character) []model.Character {
	out := make([]model.Character, len(in))
	for i, c := range in {
		clone := c
		clone.Knowledge = make(map[string]model.KnowledgeStatus, len(c.Knowledge))
		for k, v := range c.Knowledge {
			clone.Knowledge[k] = v
		}
		out[i] = clone
	}
	return out
}

// stripSyntheticKnowledge removes bridge/red-herring entries left from
// a prior run of this stage, so re-running never accumulates them.
func stripSyntheticKnowledge(characters []model.Character) {
	for i := range characters {
		for factID := range characters[i].Knowledge {
			if model.IsBridgeFact(factID) || model.IsRedHerringFact(factID) {
				delete(characters[i].Knowledge, factID)
			}
		}
	}
}

// collectEventRevealSkeletons is §4.7 step 1.
func collectEventRevealSkeletons(events []model.Event, roleMapping map[string]string) ([]model.FactSkeleton, error) {
	sorted := append([]model.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	order := make([]string, 0)
	subjectsByFact := make(map[string]map[string]bool)
	firstEventByFact := make(map[string]string)

	for _, e := range sorted {
		for _, reveal := range e.Reveals {
			if reveal.FactID == "" {
				return nil, fmt.Errorf("event %s has a reveal with an empty fact id", e.EventID)
			}
			if _, seen := subjectsByFact[reveal.FactID]; !seen {
				subjectsByFact[reveal.FactID] = make(map[string]bool)
				firstEventByFact[reveal.FactID] = e.EventID
				order = append(order, reveal.FactID)
			}
			for _, subject := range reveal.Subjects {
				remapped := subject
				if charID, ok := roleMapping[subject]; ok {
					remapped = charID
				}
				subjectsByFact[reveal.FactID][remapped] = true
			}
		}
	}

	skeletons := make([]model.FactSkeleton, 0, len(order))
	for _, factID := range order {
		skeletons = append(skeletons, model.FactSkeleton{
			FactID:   factID,
			Subjects: sortedKeys(subjectsByFact[factID]),
			Veracity: true,
			Source:   model.FactSource{Kind: model.SourceEventReveal, EventID: firstEventByFact[factID]},
		})
	}
	return skeletons, nil
}

// appendDenialSkeletons is §4.7 step 2.
func appendDenialSkeletons(skeletons []model.FactSkeleton, characters []model.Character) []model.FactSkeleton {
	bySubjects := make(map[string][]string, len(skeletons))
	existing := make(map[string]bool, len(skeletons))
	for _, s := range skeletons {
		bySubjects[s.FactID] = s.Subjects
		existing[s.FactID] = true
	}

	emitted := make(map[string]bool)
	sortedChars := append([]model.Character(nil), characters...)
	sort.Slice(sortedChars, func(i, j int) bool { return sortedChars[i].CharacterID < sortedChars[j].CharacterID })

	for _, c := range sortedChars {
		var deniedIDs []string
		for factID, status := range c.Knowledge {
			if status == model.StatusDenies {
				deniedIDs = append(deniedIDs, factID)
			}
		}
		sort.Strings(deniedIDs)

		for _, factID := range deniedIDs {
			if !existing[factID] {
				continue
			}
			falseID := model.DeniedFactID(factID)
			if emitted[falseID] {
				continue
			}
			emitted[falseID] = true
			skeletons = append(skeletons, model.FactSkeleton{
				FactID:   falseID,
				Subjects: append([]string(nil), bySubjects[factID]...),
				Veracity: false,
				Source:   model.FactSource{Kind: model.SourceDenial, CharacterID: c.CharacterID, DeniedFactID: factID},
			})
		}
	}
	return skeletons
}

// buildFactGraphFrom is §4.7 step 3.
func buildFactGraphFrom(skeletons []model.FactSkeleton, characters []model.Character, locationReveals map[string][]string) (*model.FactGraph, error) {
	factToSubjects := make(map[string][]string, len(skeletons))
	factExists := make(map[string]bool, len(skeletons))
	for _, s := range skeletons {
		factToSubjects[s.FactID] = s.Subjects
		factExists[s.FactID] = true
	}

	subjectToFacts := make(map[string]map[string]bool)
	addFact := func(subject, factID string) {
		if _, ok := subjectToFacts[subject]; !ok {
			subjectToFacts[subject] = make(map[string]bool)
		}
		subjectToFacts[subject][factID] = true
	}

	for _, c := range characters {
		for factID, status := range c.Knowledge {
			if !factExists[factID] {
				continue
			}
			if status == model.StatusKnows || status == model.StatusSuspects || status == model.StatusBelieves {
				addFact(c.CharacterID, factID)
			}
		}
	}

	characterIDs := make(map[string]bool, len(characters))
	for _, c := range characters {
		characterIDs[c.CharacterID] = true
	}

	// Any location appearing as a fact's subject is reachable from that
	// fact regardless of locationReveals.
	for factID, subjects := range factToSubjects {
		for _, subject := range subjects {
			if characterIDs[subject] {
				continue
			}
			addFact(subject, factID)
		}
	}
	for loc, factIDs := range locationReveals {
		for _, factID := range factIDs {
			if factExists[factID] {
				addFact(loc, factID)
			}
		}
	}

	result := &model.FactGraph{
		FactToSubjects: factToSubjects,
		SubjectToFacts: make(map[string][]string, len(subjectToFacts)),
	}
	for subject, facts := range subjectToFacts {
		result.SubjectToFacts[subject] = sortedKeys(facts)
	}
	return result, nil
}

// ensureReachability is §4.7 steps 4–5: iterate bridge synthesis until
// every subject is reachable from a seed fact by bipartite BFS, failing
// once the safety cap is hit. A fact whose subjects are all reachable
// but that no subject reveals (such as a denial's false counterpart)
// stays unreachable here.
func ensureReachability(
	skeletons []model.FactSkeleton,
	characters []model.Character,
	graph *model.FactGraph,
	locationReveals map[string][]string,
) ([]model.FactSkeleton, []model.Character, *model.FactGraph, error) {
	characterIDs := make(map[string]bool, len(characters))
	for _, c := range characters {
		characterIDs[c.CharacterID] = true
	}

	for iteration := 0; iteration < factGraphSafetyCap; iteration++ {
		if len(skeletons) == 0 {
			return nil, nil, nil, fmt.Errorf("no fact skeletons to build a graph from")
		}
		seed := skeletons[0].FactID

		reachableFacts, reachableSubjects := bipartiteBFS(seed, graph)

		allFacts := make(map[string]bool, len(skeletons))
		for _, s := range skeletons {
			allFacts[s.FactID] = true
		}
		allSubjects := make(map[string]bool, len(graph.SubjectToFacts))
		for subject := range graph.SubjectToFacts {
			allSubjects[subject] = true
		}

		if supersetOf(reachableSubjects, allSubjects) {
			return skeletons, characters, graph, nil
		}

		var reachableChars []string
		for subject := range reachableSubjects {
			if characterIDs[subject] {
				reachableChars = append(reachableChars, subject)
			}
		}
		sort.Strings(reachableChars)
		if len(reachableChars) == 0 {
			return nil, nil, nil, fmt.Errorf("no reachable character from seed fact %s; cannot bridge", seed)
		}

		idxByCharID := make(map[string]int, len(characters))
		for i, c := range characters {
			idxByCharID[c.CharacterID] = i
		}

		rr := 0
		nextChar := func() string {
			c := reachableChars[rr%len(reachableChars)]
			rr++
			return c
		}

		existingFactID := make(map[string]bool, len(skeletons))
		for _, s := range skeletons {
			existingFactID[s.FactID] = true
		}

		addBridge := func(charID, subject string) {
			bridgeID := fmt.Sprintf("fact_bridge_%s_to_%s", charID, subject)
			if existingFactID[bridgeID] {
				return
			}
			existingFactID[bridgeID] = true
			skeletons = append(skeletons, model.FactSkeleton{
				FactID:   bridgeID,
				Subjects: []string{charID, subject},
				Veracity: true,
				Source:   model.FactSource{Kind: model.SourceBridge, FromCharacterID: charID, ToSubject: subject},
			})
			idx := idxByCharID[charID]
			characters[idx].Knowledge[bridgeID] = model.StatusKnows
		}

		var unreachableSubjects []string
		for subject := range allSubjects {
			if !reachableSubjects[subject] {
				unreachableSubjects = append(unreachableSubjects, subject)
			}
		}
		sort.Strings(unreachableSubjects)
		for _, subject := range unreachableSubjects {
			addBridge(nextChar(), subject)
		}

		var unreachableFacts []string
		for factID := range allFacts {
			if !reachableFacts[factID] {
				unreachableFacts = append(unreachableFacts, factID)
			}
		}
		sort.Strings(unreachableFacts)
		for _, factID := range unreachableFacts {
			subjects := graph.FactToSubjects[factID]
			allUnreachable := true
			for _, s := range subjects {
				if reachableSubjects[s] {
					allUnreachable = false
					break
				}
			}
			if allUnreachable && len(subjects) > 0 {
				addBridge(nextChar(), subjects[0])
			}
		}

		rebuilt, err := buildFactGraphFrom(skeletons, characters, locationReveals)
		if err != nil {
			return nil, nil, nil, err
		}
		graph = rebuilt
	}

	return nil, nil, nil, fmt.Errorf("fact graph did not converge to full reachability within %d iterations", factGraphSafetyCap)
}

func bipartiteBFS(seedFactID string, graph *model.FactGraph) (map[string]bool, map[string]bool) {
	reachableFacts := map[string]bool{seedFactID: true}
	reachableSubjects := make(map[string]bool)

	queueFacts := []string{seedFactID}
	for len(queueFacts) > 0 {
		factID := queueFacts[0]
		queueFacts = queueFacts[1:]

		for _, subject := range graph.FactToSubjects[factID] {
			if reachableSubjects[subject] {
				continue
			}
			reachableSubjects[subject] = true
			for _, nextFact := range graph.SubjectToFacts[subject] {
				if !reachableFacts[nextFact] {
					reachableFacts[nextFact] = true
					queueFacts = append(queueFacts, nextFact)
				}
			}
		}
	}
	return reachableFacts, reachableSubjects
}

func supersetOf(set, subset map[string]bool) bool {
	for k := range subset {
		if !set[k] {
			return false
		}
	}
	return true
}

// synthesizeRedHerrings is §4.7 step 6.
func synthesizeRedHerrings(skeletons []model.FactSkeleton, characters []model.Character, graph *model.FactGraph) ([]model.FactSkeleton, []model.Character) {
	target := int(math.Max(1, math.Min(3, math.Floor(float64(len(skeletons))/5))))

	type charCount struct {
		id    string
		count int
	}
	counts := make([]charCount, 0, len(characters))
	for _, c := range characters {
		counts = append(counts, charCount{id: c.CharacterID, count: len(graph.SubjectToFacts[c.CharacterID])})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count < counts[j].count
		}
		return counts[i].id < counts[j].id
	})
	if target > len(counts) {
		target = len(counts)
	}

	idxByCharID := make(map[string]int, len(characters))
	for i, c := range characters {
		idxByCharID[c.CharacterID] = i
	}

	var locationIDs []string
	for subject := range graph.SubjectToFacts {
		if indexOfCharacter(characters, subject) == -1 {
			locationIDs = append(locationIDs, subject)
		}
	}
	sort.Strings(locationIDs)

	for i := 0; i < target; i++ {
		charID := counts[i].id
		charFacts := setOf(graph.SubjectToFacts[charID])

		bestLoc := ""
		bestOverlap := math.MaxInt32
		for _, loc := range locationIDs {
			overlap := overlapCount(charFacts, setOf(graph.SubjectToFacts[loc]))
			if overlap < bestOverlap {
				bestOverlap = overlap
				bestLoc = loc
			}
		}

		subjects := []string{charID}
		herringID := fmt.Sprintf("fact_red_herring_%s", charID)
		if bestLoc != "" {
			subjects = append(subjects, bestLoc)
			herringID = fmt.Sprintf("fact_red_herring_%s_%s", charID, bestLoc)
		}

		skeletons = append(skeletons, model.FactSkeleton{
			FactID:   herringID,
			Subjects: subjects,
			Veracity: true,
			Source:   model.FactSource{Kind: model.SourceRedHerring},
		})
		characters[idxByCharID[charID]].Knowledge[herringID] = model.StatusKnows
	}

	return skeletons, characters
}

func indexOfCharacter(characters []model.Character, id string) int {
	for i, c := range characters {
		if c.CharacterID == id {
			return i
		}
	}
	return -1
}

func setOf(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func overlapCount(a, b map[string]bool) int {
	count := 0
	for k := range a {
		if b[k] {
			count++
		}
	}
	return count
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
