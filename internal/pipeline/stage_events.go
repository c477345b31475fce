package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// EventsStage is S2+S2v: fills each template slot with a concrete
// event and validates the result (§4.3).
func EventsStage() StageDef {
	return StageDef{Name: model.StageEvents, Deterministic: false, Run: runEvents}
}

// eventContent is the generative payload for one slot: everything S1's
// template doesn't already fix (agent, location, perception, reveals).
// Causes and necessity are derived deterministically from the
// template's slot graph, never trusted from the model.
type eventContent struct {
	SlotID      string                            `json:"slotId"`
	Description string                            `json:"description,omitempty"`
	Timestamp   int                                `json:"timestamp"`
	Agent       string                             `json:"agent"`
	Location    string                             `json:"location"`
	Involvement map[string]model.InvolvementType  `json:"involvement"`
	Reveals     []model.EventReveal                `json:"reveals"`
}

type eventsResponse struct {
	Events []eventContent `json:"events"`
}

func runEvents(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if state.Template == nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageEvents, Msg: "no template in state"}
	}

	prompt := buildEventsPrompt(*state.Template)

	var resp eventsResponse
	if err := generateJSON(ctx, client, string(model.StageEvents), prompt, prevErrors, 1.0, 4096, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	bySlot := make(map[string]eventContent, len(resp.Events))
	for _, e := range resp.Events {
		bySlot[e.SlotID] = e
	}

	slots := state.Template.EventSlots
	eventIDBySlot := make(map[string]string, len(slots))
	for i, slot := range slots {
		eventIDBySlot[slot.SlotID] = model.EventID(i + 1)
	}

	// Forward edges: event.Causes is the reverse of slot.CausedBy.
	causesBySlot := make(map[string][]string, len(slots))
	for _, slot := range slots {
		for _, cause := range slot.CausedBy {
			causesBySlot[cause] = append(causesBySlot[cause], eventIDBySlot[slot.SlotID])
		}
	}

	events := make([]model.Event, 0, len(slots))
	for _, slot := range slots {
		content := bySlot[slot.SlotID]
		description := content.Description
		if description == "" {
			description = slot.Description
		}

		causes := append([]string(nil), causesBySlot[slot.SlotID]...)
		sort.Strings(causes)

		events = append(events, model.Event{
			EventID:     eventIDBySlot[slot.SlotID],
			Description: description,
			Timestamp:   content.Timestamp,
			Agent:       content.Agent,
			Location:    content.Location,
			Involvement: content.Involvement,
			Necessity:   slot.Necessity,
			Causes:      causes,
			Reveals:     content.Reveals,
		})
	}

	vr := validateEvents(events)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Events = events
	return next, vr, nil
}

func buildEventsPrompt(tmpl model.Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fill in concrete events for this case skeleton (title %q, era %s, atmosphere %q, crime type %s).\n",
		tmpl.Title, tmpl.Era, tmpl.Atmosphere, tmpl.CrimeType)
	b.WriteString("For each of the following slots, produce one event. Use the exact slotId given.\n")
	for _, slot := range tmpl.EventSlots {
		fmt.Fprintf(&b, "- slotId=%s: %s\n", slot.SlotID, slot.Description)
	}
	b.WriteString("\nCharacter roles (use these role ids as agent/involvement subjects; do not invent new ones):\n")
	for _, role := range tmpl.CharacterRoles {
		fmt.Fprintf(&b, "- %s: %s — %s\n", role.RoleID, role.Label, role.Description)
	}
	b.WriteString("\nFor each event, assign a monotonic integer timestamp consistent with the narrative order (gaps allowed), " +
		"an agent (a role id, who MUST also appear in involvement with type \"agent\"), a location (a short placeholder name), " +
		"an involvement map from role id or location placeholder to one of agent|present|witness_visual|witness_auditory|discovered_evidence, " +
		"and a non-empty reveals list, each reveal having a unique factId, booleans audible/visible/physical, and a non-empty subjects list " +
		"(role ids and/or location placeholders the fact concerns).\n")
	b.WriteString("Respond with a JSON object: {\"events\": [{slotId, description, timestamp, agent, location, involvement, reveals}, ...]}.")
	return b.String()
}

func validateEvents(events []model.Event) model.ValidationResult {
	var errs []string

	ids := make(map[string]bool, len(events))
	for _, e := range events {
		ids[e.EventID] = true
	}

	for _, e := range events {
		for _, cause := range e.Causes {
			if !ids[cause] {
				errs = append(errs, fmt.Sprintf("event %s causes unknown event id %s", e.EventID, cause))
			}
		}

		if inv, ok := e.Involvement[e.Agent]; !ok || inv != model.InvolvementAgent {
			errs = append(errs, fmt.Sprintf("event %s: agent %s does not appear in involvement with type agent", e.EventID, e.Agent))
		}

		for subject, inv := range e.Involvement {
			if !model.ValidInvolvementTypes[inv] {
				errs = append(errs, fmt.Sprintf("event %s: subject %s has invalid involvement type %q", e.EventID, subject, inv))
			}
		}

		if len(e.Reveals) == 0 {
			errs = append(errs, fmt.Sprintf("event %s: reveals list is empty", e.EventID))
		}
		for _, r := range e.Reveals {
			if r.FactID == "" {
				errs = append(errs, fmt.Sprintf("event %s: a reveal has an empty factId", e.EventID))
			}
			if len(r.Subjects) == 0 {
				errs = append(errs, fmt.Sprintf("event %s: reveal %s has an empty subjects list", e.EventID, r.FactID))
			}
		}
	}

	if cycle, ok := findEventCycle(events); ok {
		errs = append(errs, fmt.Sprintf("causal graph is not acyclic; cycle witness: %s", strings.Join(cycle, ", ")))
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK()
}

// findEventCycle runs Kahn's algorithm over the causes relation. If a
// cycle exists, the surviving (never-dequeued) ids are returned as the
// cycle witness (§4.3 invariant 5), sorted for determinism.
func findEventCycle(events []model.Event) ([]string, bool) {
	inDegree := make(map[string]int, len(events))
	adjacency := make(map[string][]string, len(events))
	for _, e := range events {
		if _, ok := inDegree[e.EventID]; !ok {
			inDegree[e.EventID] = 0
		}
		for _, cause := range e.Causes {
			adjacency[e.EventID] = append(adjacency[e.EventID], cause)
			inDegree[cause]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(inDegree) {
		return nil, false
	}

	var surviving []string
	for id, deg := range inDegree {
		if deg > 0 {
			surviving = append(surviving, id)
		}
	}
	sort.Strings(surviving)
	return surviving, true
}
