package model

// Difficulty is the requested case difficulty tier (§4.2).
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// MysteryStyle is one of the five enumerated structural styles (§3).
type MysteryStyle string

const (
	StyleIsolated    MysteryStyle = "isolated"
	StyleSprawling   MysteryStyle = "sprawling"
	StyleTimeLimited MysteryStyle = "time-limited"
	StyleLayered     MysteryStyle = "layered"
	StyleParallel    MysteryStyle = "parallel"
)

// NarrativeTone is one of the nine enumerated tones (§3).
type NarrativeTone string

const (
	ToneGrim         NarrativeTone = "grim"
	ToneCozy         NarrativeTone = "cozy"
	ToneNoir         NarrativeTone = "noir"
	TonePlayful      NarrativeTone = "playful"
	ToneGothic       NarrativeTone = "gothic"
	ToneProcedural   NarrativeTone = "procedural"
	ToneSatirical    NarrativeTone = "satirical"
	ToneMelancholic  NarrativeTone = "melancholic"
	ToneNaturalistic NarrativeTone = "naturalistic"
)

// Necessity marks whether an event slot (and the event filling it) is
// load-bearing for the mystery.
type Necessity string

const (
	NecessityRequired Necessity = "required"
	NecessityOptional Necessity = ""
)

// EventSlot is a structural placeholder in the Template's causal DAG,
// filled in with a concrete Event at S2.
type EventSlot struct {
	SlotID      string    `json:"slotId"`
	Description string    `json:"description"`
	Necessity   Necessity `json:"necessity,omitempty"`
	CausedBy    []string  `json:"causedBy"`
}

// CharacterRole is a structural placeholder for a Character, filled in
// at S3.
type CharacterRole struct {
	RoleID      string `json:"roleId"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Template is the root structural skeleton produced by S1.
type Template struct {
	CrimeType     string          `json:"crimeType"`
	Title         string          `json:"title"`
	Era           string          `json:"era"`
	Date          string          `json:"date"`
	Atmosphere    string          `json:"atmosphere"`
	MysteryStyle  MysteryStyle    `json:"mysteryStyle"`
	NarrativeTone NarrativeTone   `json:"narrativeTone"`
	EventSlots    []EventSlot     `json:"eventSlots"`
	CharacterRoles []CharacterRole `json:"characterRoles"`
	Difficulty    Difficulty      `json:"difficulty"`
}

// InvolvementType classifies how a subject participated in an event
// (§3), and in turn which perception channels they had access to.
type InvolvementType string

const (
	InvolvementAgent              InvolvementType = "agent"
	InvolvementPresent            InvolvementType = "present"
	InvolvementWitnessVisual      InvolvementType = "witness_visual"
	InvolvementWitnessAuditory    InvolvementType = "witness_auditory"
	InvolvementDiscoveredEvidence InvolvementType = "discovered_evidence"
)

// ValidInvolvementTypes enumerates the allowed involvement enum, used
// by S2v's invariant 3.
var ValidInvolvementTypes = map[InvolvementType]bool{
	InvolvementAgent:              true,
	InvolvementPresent:            true,
	InvolvementWitnessVisual:      true,
	InvolvementWitnessAuditory:    true,
	InvolvementDiscoveredEvidence: true,
}

// EventReveal is an atomic piece of knowledge produced by an event
// (§3). Subjects is non-empty: role/location ids the fact is about.
type EventReveal struct {
	FactID   string   `json:"factId"`
	Audible  bool     `json:"audible"`
	Visible  bool     `json:"visible"`
	Physical bool     `json:"physical"`
	Subjects []string `json:"subjects"`
}

// Event is a node in the causal DAG (§3). Agent/Location start as role
// and placeholder ids; S3/S4 rewrite them to concrete character/
// location ids.
type Event struct {
	EventID      string                     `json:"eventId"`
	Description  string                     `json:"description"`
	Timestamp    int                        `json:"timestamp"`
	Agent        string                     `json:"agent"`
	Location     string                     `json:"location"`
	Involvement  map[string]InvolvementType `json:"involvement"`
	Necessity    Necessity                  `json:"necessity,omitempty"`
	Causes       []string                   `json:"causes"`
	Reveals      []EventReveal              `json:"reveals"`
}

// KnowledgeStatus is one of the five permitted per-fact statuses a
// character's knowledge state can carry (§3).
type KnowledgeStatus string

const (
	StatusKnows    KnowledgeStatus = "knows"
	StatusSuspects KnowledgeStatus = "suspects"
	StatusHides    KnowledgeStatus = "hides"
	StatusDenies   KnowledgeStatus = "denies"
	StatusBelieves KnowledgeStatus = "believes"
)

// ValidKnowledgeStatuses enumerates the five permitted statuses.
var ValidKnowledgeStatuses = map[KnowledgeStatus]bool{
	StatusKnows:    true,
	StatusSuspects: true,
	StatusHides:    true,
	StatusDenies:   true,
	StatusBelieves: true,
}

// ToneProfile describes a character's voice for prose generation.
type ToneProfile struct {
	Register         string   `json:"register"`
	VocabularyMarkers []string `json:"vocabularyMarkers"`
	Quirk            string   `json:"quirk,omitempty"`
}

// Character is a generated cast member (§3).
type Character struct {
	CharacterID   string                     `json:"characterId"`
	Name          string                     `json:"name"`
	MysteryRole   string                     `json:"mysteryRole"`
	SocietalRole  string                     `json:"societalRole"`
	Description   string                     `json:"description"`
	Motivations   []string                   `json:"motivations"`
	Knowledge     map[string]KnowledgeStatus `json:"knowledge"`
	Tone          ToneProfile                `json:"tone"`
	CurrentStatus string                     `json:"currentStatus,omitempty"`
}

// Location is a node in the spatial world graph (§3).
type Location struct {
	LocationID      string   `json:"locationId"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	AccessibleFrom  []string `json:"accessibleFrom"`
	VisibleFrom     []string `json:"visibleFrom"`
	AudibleFrom     []string `json:"audibleFrom"`
}

// FactCategory is one of the ten enumerated fact categories (§3).
type FactCategory string

const (
	CategoryMotive          FactCategory = "motive"
	CategoryMeans           FactCategory = "means"
	CategoryOpportunity     FactCategory = "opportunity"
	CategoryAlibi           FactCategory = "alibi"
	CategoryRelationship    FactCategory = "relationship"
	CategoryTimeline        FactCategory = "timeline"
	CategoryPhysicalEvidence FactCategory = "physical_evidence"
	CategoryBackground      FactCategory = "background"
	CategoryPerson          FactCategory = "person"
	CategoryPlace           FactCategory = "place"
)

// ValidFactCategories enumerates the ten permitted categories.
var ValidFactCategories = map[FactCategory]bool{
	CategoryMotive:           true,
	CategoryMeans:            true,
	CategoryOpportunity:      true,
	CategoryAlibi:            true,
	CategoryRelationship:     true,
	CategoryTimeline:         true,
	CategoryPhysicalEvidence: true,
	CategoryBackground:       true,
	CategoryPerson:           true,
	CategoryPlace:            true,
}

// FactSourceKind discriminates FactSource's tagged-variant payload.
type FactSourceKind string

const (
	SourceEventReveal FactSourceKind = "event_reveal"
	SourceDenial      FactSourceKind = "denial"
	SourceBridge      FactSourceKind = "bridge"
	SourceRedHerring  FactSourceKind = "red_herring"
)

// FactSource is a tagged-variant sum type (per §9's design note): one
// discriminator field plus the payload fields relevant to that variant.
// Only the fields matching Kind are meaningful.
type FactSource struct {
	Kind FactSourceKind `json:"kind"`

	// event_reveal
	EventID string `json:"eventId,omitempty"`

	// denial
	CharacterID   string `json:"characterId,omitempty"`
	DeniedFactID  string `json:"deniedFactId,omitempty"`

	// bridge
	FromCharacterID string `json:"fromCharacterId,omitempty"`
	ToSubject       string `json:"toSubject,omitempty"`
}

// FactSkeleton is an intermediate fact before S6 gives it a
// description and category (§3).
type FactSkeleton struct {
	FactID   string     `json:"factId"`
	Subjects []string   `json:"subjects"`
	Veracity bool       `json:"veracity"`
	Source   FactSource `json:"source"`
}

// Fact is the finalized fact record, merging a FactSkeleton with S6's
// generated description/category (§3).
type Fact struct {
	FactID      string       `json:"factId"`
	Description string       `json:"description"`
	Category    FactCategory `json:"category"`
	Subjects    []string     `json:"subjects"`
	Veracity    bool         `json:"veracity"`
}

// FactGraph is the bipartite fact/subject graph built by S5 (§3).
type FactGraph struct {
	FactToSubjects map[string][]string `json:"factToSubjects"`
	SubjectToFacts map[string][]string `json:"subjectToFacts"`
}

// ComputedKnowledge holds S2k's deterministic derivations (§3).
type ComputedKnowledge struct {
	// RoleKnowledge: role id -> fact id -> status (always "knows" as a
	// baseline; §4.4).
	RoleKnowledge map[string]map[string]KnowledgeStatus `json:"roleKnowledge"`
	// LocationReveals: location id -> physical-evidence fact ids still
	// present after cleanup detection (§4.4). Empty lists omitted.
	LocationReveals map[string][]string `json:"locationReveals"`
}

// CasebookEntry is a visitable node in the player-facing graph (§3).
type CasebookEntry struct {
	EntryID         string   `json:"entryId"`
	Label           string   `json:"label"`
	Address         string   `json:"address"`
	LocationID      string   `json:"locationId"`
	CharacterIDs    []string `json:"characterIds"`
	RevealsFactIDs  []string `json:"revealsFactIds"`
	RequiresAnyFact []string `json:"requiresAnyFact"`
}

// AnswerType discriminates a Question's typed answer variant.
type AnswerType string

const (
	AnswerPerson   AnswerType = "person"
	AnswerLocation AnswerType = "location"
	AnswerFact     AnswerType = "fact"
)

// Answer is a typed accepted-answer set for a Question (§3).
type Answer struct {
	Type          AnswerType   `json:"type"`
	AcceptedIDs   []string     `json:"acceptedIds"`
	FactCategory  FactCategory `json:"factCategory,omitempty"`
}

// Question is a single quiz item (§3).
type Question struct {
	QuestionID string  `json:"questionId"`
	Text       string  `json:"text"`
	Answer     Answer  `json:"answer"`
	Points     int     `json:"points"`
	Difficulty string  `json:"difficulty"`
}

// Case is the fully generated, playable artifact S12 persists.
type Case struct {
	CaseDate            string              `json:"caseDate"`
	Title               string              `json:"title"`
	Template            Template            `json:"template"`
	Events              []Event             `json:"events"`
	Characters          []Character         `json:"characters"`
	Locations           []Location          `json:"locations"`
	Facts               []Fact              `json:"facts"`
	IntroductionFactIDs []string            `json:"introductionFactIds"`
	Introduction        string              `json:"introduction"`
	Casebook            []CasebookEntry     `json:"casebook"`
	Prose               map[string]string   `json:"prose"`
	Questions           []Question          `json:"questions"`
	OptimalPath         []string            `json:"optimalPath"`
}
