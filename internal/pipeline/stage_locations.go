package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
)

// LocationsStage is S4+S4v: collects location placeholders from the
// event list and generates the spatial world graph (§4.6).
func LocationsStage() StageDef {
	return StageDef{Name: model.StageLocations, Deterministic: false, Run: runLocations}
}

type locationContent struct {
	LocationID     string   `json:"locationId"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	AccessibleFrom []string `json:"accessibleFrom"`
	VisibleFrom    []string `json:"visibleFrom"`
	AudibleFrom    []string `json:"audibleFrom"`
}

type locationsResponse struct {
	Locations []locationContent `json:"locations"`
}

func runLocations(ctx context.Context, state *model.GenerationState, client modelclient.Client, prevErrors []string) (*model.GenerationState, model.ValidationResult, error) {
	if len(state.Events) == 0 || state.RoleMapping == nil {
		return nil, model.ValidationResult{}, &FatalStageError{Stage: model.StageLocations, Msg: "events or role mapping missing from state"}
	}

	placeholders := collectLocationPlaceholders(state.Events, state.RoleMapping)
	prompt := buildLocationsPrompt(placeholders)

	var resp locationsResponse
	if err := generateJSON(ctx, client, string(model.StageLocations), prompt, prevErrors, 1.0, 3072, &resp); err != nil {
		return nil, model.ValidationResult{}, err
	}

	byID := make(map[string]locationContent, len(resp.Locations))
	for _, l := range resp.Locations {
		byID[l.LocationID] = l
	}

	locations := make([]model.Location, 0, len(placeholders))
	for _, placeholder := range placeholders {
		content := byID[placeholder]
		name := content.Name
		if name == "" {
			name = placeholder
		}
		locations = append(locations, model.Location{
			LocationID:     placeholder,
			Name:           name,
			Type:           content.Type,
			Description:    content.Description,
			AccessibleFrom: content.AccessibleFrom,
			VisibleFrom:    content.VisibleFrom,
			AudibleFrom:    content.AudibleFrom,
		})
	}

	vr := validateLocations(locations, state.Events)
	if !vr.Valid {
		return state, vr, nil
	}

	next := state.Clone()
	next.Locations = locations
	return next, vr, nil
}

// collectLocationPlaceholders implements §4.6's placeholder collection:
// every unique event.location, plus every reveal subject that is not a
// known role id, sorted for a stable prompt/output order.
func collectLocationPlaceholders(events []model.Event, roleMapping map[string]string) []string {
	roleIDs := make(map[string]bool, len(roleMapping))
	for roleID := range roleMapping {
		roleIDs[roleID] = true
	}

	set := make(map[string]bool)
	for _, e := range events {
		if e.Location != "" {
			set[e.Location] = true
		}
		for _, reveal := range e.Reveals {
			for _, subject := range reveal.Subjects {
				if !roleIDs[subject] {
					set[subject] = true
				}
			}
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func buildLocationsPrompt(placeholders []string) string {
	var b strings.Builder
	b.WriteString("Build the spatial world graph for these location placeholders. Use the exact locationId given for each:\n")
	for _, p := range placeholders {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\nFor each, give: locationId, name, type (e.g. interior/exterior/vehicle), description, " +
		"accessibleFrom (other locationIds reachable on foot), visibleFrom (locationIds with a sightline into this one), " +
		"audibleFrom (locationIds within earshot). Every id referenced in these lists must be one of the locationIds above.\n")
	b.WriteString("Respond with a JSON object: {\"locations\": [{locationId, name, type, description, accessibleFrom, visibleFrom, audibleFrom}, ...]}.")
	return b.String()
}

func validateLocations(locations []model.Location, events []model.Event) model.ValidationResult {
	var errs []string
	var warnings []string

	ids := make(map[string]bool, len(locations))
	for _, l := range locations {
		ids[l.LocationID] = true
	}

	for _, e := range events {
		if e.Location != "" && !ids[e.Location] {
			errs = append(errs, fmt.Sprintf("event %s references unknown location %s", e.EventID, e.Location))
		}
	}

	accessibleFrom := make(map[string]map[string]bool, len(locations))
	for _, l := range locations {
		accessibleFrom[l.LocationID] = make(map[string]bool, len(l.AccessibleFrom))
		for _, other := range l.AccessibleFrom {
			if !ids[other] {
				errs = append(errs, fmt.Sprintf("location %s accessibleFrom references unknown location %s", l.LocationID, other))
				continue
			}
			accessibleFrom[l.LocationID][other] = true
		}
	}
	for from, tos := range accessibleFrom {
		for to := range tos {
			if !accessibleFrom[to][from] {
				warnings = append(warnings, fmt.Sprintf("asymmetric accessibleFrom: %s -> %s is not reciprocated", from, to))
			}
		}
	}

	if len(errs) > 0 {
		return model.Invalid(errs...)
	}
	return model.OK(warnings...)
}
