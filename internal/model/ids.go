// Package model holds the data types that flow through the case
// generation pipeline: the template, events, characters, locations,
// facts, the fact/subject graph, the casebook, and the final Case.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ID prefix conventions, fixed by the spec so that an ID's kind is
// self-describing wherever it shows up (subject lists, gates, answers).
const (
	PrefixRole     = "role_"
	PrefixCharacter = "char_"
	PrefixLocation = "loc_"
	PrefixFact     = "fact_"
	PrefixEntry    = "entry_"
	PrefixEvent    = "E"
	PrefixQuestion = "q_"
)

func newID(prefix string) string {
	return prefix + uuid.New().String()[:8]
}

// NewRoleID returns a fresh opaque role identifier.
func NewRoleID() string { return newID(PrefixRole) }

// NewCharacterID returns a fresh opaque character identifier.
func NewCharacterID() string { return newID(PrefixCharacter) }

// NewLocationID returns a fresh opaque location identifier.
func NewLocationID() string { return newID(PrefixLocation) }

// NewFactID returns a fresh opaque fact identifier.
func NewFactID() string { return newID(PrefixFact) }

// NewEntryID returns a fresh opaque casebook entry identifier.
func NewEntryID() string { return newID(PrefixEntry) }

// NewQuestionID returns a fresh opaque question identifier.
func NewQuestionID() string { return newID(PrefixQuestion) }

// NewDraftID returns a fresh opaque run/draft identifier, the key a
// DraftStore and CaseStore both index on for one generation run.
func NewDraftID() string { return uuid.New().String() }

// EventID formats the index-based event identifier "E<n>".
func EventID(n int) string { return fmt.Sprintf("%s%d", PrefixEvent, n) }

// DeniedFactID returns the fact id of the false counterpart a denial
// synthesizes for factID, per §4.7 step 2.
func DeniedFactID(factID string) string { return factID + "_false" }

// IsBridgeFact reports whether factID was synthesized by S5's bridge
// step (invariant 2 in §8 treats these as baseline-exempt).
func IsBridgeFact(factID string) bool {
	return hasPrefix(factID, "fact_bridge_")
}

// IsRedHerringFact reports whether factID was synthesized by S5's red
// herring step.
func IsRedHerringFact(factID string) bool {
	return hasPrefix(factID, "fact_red_herring_")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
