package model

import "time"

// Stage names every pipeline stage, serializable for resume requests
// (§4.1, §6 "Resume input").
type Stage string

const (
	StageTemplate       Stage = "generateTemplate"
	StageEvents         Stage = "generateEvents"
	StageEventKnowledge Stage = "deriveEventKnowledge"
	StageCharacters     Stage = "generateCharacters"
	StageLocations      Stage = "generateLocations"
	StageFactGraph      Stage = "buildFactGraph"
	StageFactDesc       Stage = "generateFactDescriptions"
	StageIntroduction   Stage = "generateIntroduction"
	StageCasebook       Stage = "buildCasebook"
	StageProse          Stage = "generateProse"
	StageQuestions      Stage = "generateQuestions"
	StageOptimalPath    Stage = "computeOptimalPath"
	StageStore          Stage = "store"
)

// StageOrder is the fixed linear sequence the orchestrator drives
// (§2). Validators are not separate Stage values: each generative
// stage's entry covers its own S*v pass.
var StageOrder = []Stage{
	StageTemplate,
	StageEvents,
	StageEventKnowledge,
	StageCharacters,
	StageLocations,
	StageFactGraph,
	StageFactDesc,
	StageIntroduction,
	StageCasebook,
	StageProse,
	StageQuestions,
	StageOptimalPath,
	StageStore,
}

// ResumableStages is "every stage name from S2 onwards" (§4.1); S1
// seeds the whole run and cannot be resumed into.
func ResumableStages() []Stage {
	return StageOrder[1:]
}

// IsResumable reports whether stage is a valid resume point.
func IsResumable(stage Stage) bool {
	for _, s := range ResumableStages() {
		if s == stage {
			return true
		}
	}
	return false
}

// ValidationResult is what a deterministic validator (or, for S5/S8v/
// S11, an internal coherence check) hands back to the orchestrator.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK constructs a passing ValidationResult, optionally carrying
// warnings (which never block progression, §7).
func OK(warnings ...string) ValidationResult {
	return ValidationResult{Valid: true, Warnings: warnings}
}

// Invalid constructs a failing ValidationResult with the given error
// messages, fed back into the next generative attempt as "previous
// attempt failed validation — fix these errors" (§4.1).
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// ModelAlias is one entry in a run's modelConfig alias table (§6).
type ModelAlias struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// RunInput is the JSON run-request body (§6).
type RunInput struct {
	CaseDate    string                `json:"caseDate"`
	Difficulty  Difficulty            `json:"difficulty,omitempty"`
	CrimeType   string                `json:"crimeType,omitempty"`
	ModelConfig map[string]ModelAlias `json:"modelConfig,omitempty"`
}

// GenerationState is the single progressive accumulator threaded
// through every stage (§3). Pointer fields are unset ("no value yet")
// until the stage that produces them runs; the orchestrator never
// writes a field out of its owning stage.
type GenerationState struct {
	DraftID string   `json:"draftId"`
	Input   RunInput `json:"input"`

	Template *Template `json:"template,omitempty"`

	Events            []Event            `json:"events,omitempty"`
	ComputedKnowledge *ComputedKnowledge `json:"computedKnowledge,omitempty"`

	Characters  []Character       `json:"characters,omitempty"`
	RoleMapping map[string]string `json:"roleMapping,omitempty"`

	Locations []Location `json:"locations,omitempty"`

	FactSkeletons []FactSkeleton `json:"factSkeletons,omitempty"`
	FactGraph     *FactGraph     `json:"factGraph,omitempty"`
	Facts         []Fact         `json:"facts,omitempty"`

	IntroductionFactIDs []string `json:"introductionFactIds,omitempty"`
	Introduction        string   `json:"introduction,omitempty"`
	Title               string   `json:"title,omitempty"`

	Casebook        []CasebookEntry `json:"casebook,omitempty"`
	ReachableFactIDs []string       `json:"reachableFactIds,omitempty"`

	Prose       map[string]string `json:"prose,omitempty"`
	Questions   []Question        `json:"questions,omitempty"`
	OptimalPath []string          `json:"optimalPath,omitempty"`

	// Transient, per-stage fields (§3): not meaningful once the stage
	// advances past the one that wrote them.
	LastValidation *ValidationResult `json:"lastValidation,omitempty"`
	RetryCounts    map[Stage]int     `json:"retryCounts,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewGenerationState creates the accumulator a run owns from start to
// destruction after successful store (§3 "Ownership").
func NewGenerationState(draftID string, input RunInput) *GenerationState {
	now := time.Now()
	return &GenerationState{
		DraftID:     draftID,
		Input:       input,
		RetryCounts: make(map[Stage]int),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a shallow copy of the state with its own RetryCounts
// map; every other slice, map and pointer field still shares its
// backing storage with s.
func (s *GenerationState) Clone() *GenerationState {
	clone := *s
	clone.RetryCounts = make(map[Stage]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		clone.RetryCounts[k] = v
	}
	return &clone
}
