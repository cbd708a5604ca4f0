// Package session holds the short-lived per-call memory of the copilot.
//
// A [State] carries the sticky slots (last card names, last intents), the turn
// counter and the consult-search cooldown clock. Slots are only inherited by a
// later utterance while they are fresh: both the wall-clock TTL and the
// turn-count TTL of a [Freshness] must be satisfied.
//
// The pipeline orchestrator is the only writer. The router reads a copy.
package session

import (
	"slices"
	"time"
)

// Defaults for sticky-slot freshness and the consult-search cooldown.
const (
	DefaultFreshTTL        = 180 * time.Second
	DefaultFreshTurns      = 3
	DefaultConsultCooldown = 12 * time.Second
)

// IntentKind tells whether the stored intents were strong actions or weak
// intents.
type IntentKind string

const (
	IntentStrong IntentKind = "intent"
	IntentWeak   IntentKind = "weak_intent"
)

// Freshness bounds how long a sticky slot stays inheritable.
type Freshness struct {
	TTL   time.Duration
	Turns int
}

// DefaultFreshness returns the 180 s / 3 turn policy.
func DefaultFreshness() Freshness {
	return Freshness{TTL: DefaultFreshTTL, Turns: DefaultFreshTurns}
}

// Fresh reports whether a slot written at (updatedAt, updatedTurn) is still
// fresh at (now, turn). A zero updatedAt is never fresh.
func (f Freshness) Fresh(updatedAt time.Time, updatedTurn int, now time.Time, turn int) bool {
	if updatedAt.IsZero() {
		return false
	}
	return now.Sub(updatedAt) <= f.TTL && turn-updatedTurn <= f.Turns
}

// State is the per-call session memory.
type State struct {
	ID   string `json:"id"`
	Turn int    `json:"turn"`

	CardNames            []string  `json:"current_card_name"`
	CardNamesUpdatedAt   time.Time `json:"card_name_updated_at"`
	CardNamesUpdatedTurn int       `json:"card_name_updated_turn"`

	Intents            []string   `json:"current_intent"`
	IntentKind         IntentKind `json:"intent_kind,omitempty"`
	IntentsUpdatedAt   time.Time  `json:"intent_updated_at"`
	IntentsUpdatedTurn int        `json:"intent_updated_turn"`

	ConsultLastSearchAt time.Time `json:"consult_last_search_at"`
	ConsultLastQuery    string    `json:"consult_last_query"`

	StartedAt time.Time `json:"started_at"`
}

// New returns the state of a freshly started call.
func New(id string, now time.Time) *State {
	return &State{ID: id, StartedAt: now}
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	c := *s
	c.CardNames = slices.Clone(s.CardNames)
	c.Intents = slices.Clone(s.Intents)
	return c
}

// FreshCardNames returns the stored card names when they are fresh at
// (now, s.Turn), otherwise nil.
func (s *State) FreshCardNames(f Freshness, now time.Time) []string {
	if len(s.CardNames) == 0 || !f.Fresh(s.CardNamesUpdatedAt, s.CardNamesUpdatedTurn, now, s.Turn) {
		return nil
	}
	return slices.Clone(s.CardNames)
}

// FreshIntents returns the stored intents and their kind when fresh.
func (s *State) FreshIntents(f Freshness, now time.Time) ([]string, IntentKind) {
	if len(s.Intents) == 0 || !f.Fresh(s.IntentsUpdatedAt, s.IntentsUpdatedTurn, now, s.Turn) {
		return nil, ""
	}
	return slices.Clone(s.Intents), s.IntentKind
}

// SetCardNames stores names as the current card slot.
func (s *State) SetCardNames(names []string, now time.Time) {
	s.CardNames = slices.Clone(names)
	s.CardNamesUpdatedAt = now
	s.CardNamesUpdatedTurn = s.Turn
}

// SetIntents stores intents as the current intent slot.
func (s *State) SetIntents(intents []string, kind IntentKind, now time.Time) {
	s.Intents = slices.Clone(intents)
	s.IntentKind = kind
	s.IntentsUpdatedAt = now
	s.IntentsUpdatedTurn = s.Turn
}

// ClearCardNames empties the card slot.
func (s *State) ClearCardNames() {
	s.CardNames = nil
	s.CardNamesUpdatedAt = time.Time{}
	s.CardNamesUpdatedTurn = 0
}

// ClearIntents empties the intent slot.
func (s *State) ClearIntents() {
	s.Intents = nil
	s.IntentKind = ""
	s.IntentsUpdatedAt = time.Time{}
	s.IntentsUpdatedTurn = 0
}

// ConsultCoolingDown reports whether a consult-case search ran less than
// cooldown before now.
func (s *State) ConsultCoolingDown(now time.Time, cooldown time.Duration) bool {
	return !s.ConsultLastSearchAt.IsZero() && now.Sub(s.ConsultLastSearchAt) < cooldown
}

// MarkConsultSearch stamps the cooldown clock. Call it only when a consult
// search actually ran.
func (s *State) MarkConsultSearch(now time.Time, query string) {
	s.ConsultLastSearchAt = now
	s.ConsultLastQuery = query
}
