package arena

import (
	"fmt"
	"sort"
	"strings"
)

// RoundOutcome is an adapter's verdict on the current frame.
type RoundOutcome string

const (
	RoundP1   RoundOutcome = "P1"
	RoundP2   RoundOutcome = "P2"
	RoundDraw RoundOutcome = "DRAW"
	// RoundOngoing means the round has not ended.
	RoundOngoing RoundOutcome = ""
)

// State is the adapter-normalized view of one frame. Healths are in [0,1].
type State struct {
	P1Health    float64 `json:"p1_health"`
	P2Health    float64 `json:"p2_health"`
	RoundNumber int     `json:"round"`
	Timer       float64 `json:"timer"`
	StageSide   float64 `json:"stage_side"`
	ComboCount  float64 `json:"combo_count"`
}

// RoundResult is one completed round as recorded in the match history.
type RoundResult struct {
	Winner   string  `json:"winner"`
	P1Health float64 `json:"p1_health"`
	P2Health float64 `json:"p2_health"`
}

// Adapter is the per-game normalization and termination logic. Instances
// carry per-match mutable state (win-counter delta trackers), so every match
// gets a fresh one from ForGame.
type Adapter interface {
	GameID() string
	Version() string
	// RequiredFields lists the info keys both players' maps must carry.
	RequiredFields() []string
	// DirectionalIndices returns the left/right button bit positions for
	// the P2 mirror, ok=false when the game has no directional buttons.
	DirectionalIndices() (left, right int, ok bool)
	HasRoundTimer() bool
	ValidateInfo(info Info) error
	ExtractState(info Info) State
	// IsRoundOver returns RoundOngoing while the round continues. A
	// simultaneous KO must report RoundDraw, never silently credit P1.
	IsRoundOver(info Info, st State) RoundOutcome
	// IsMatchOver returns "P1"/"P2" when the match is decided, "DRAW" when
	// all rounds are exhausted without a winner, "" while play continues.
	IsMatchOver(info Info, history []RoundResult, st State, format int) string
	// MirrorAction swaps the directional bits for the P2 view. Idempotent
	// no-op for adapters without directional buttons.
	MirrorAction(action []bool) []bool
}

// ValidationError reports which required fields were missing, per player.
type ValidationError struct {
	MissingP1 []string
	MissingP2 []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("adapter validation: P1 missing [%s], P2 missing [%s]",
		strings.Join(e.MissingP1, ","), strings.Join(e.MissingP2, ","))
}

// validateRequired is the shared ValidateInfo implementation.
func validateRequired(info Info, required []string) error {
	var ve ValidationError
	for _, f := range required {
		if _, ok := info.P1[f]; !ok {
			ve.MissingP1 = append(ve.MissingP1, f)
		}
		if _, ok := info.P2[f]; !ok {
			ve.MissingP2 = append(ve.MissingP2, f)
		}
	}
	if len(ve.MissingP1) > 0 || len(ve.MissingP2) > 0 {
		sort.Strings(ve.MissingP1)
		sort.Strings(ve.MissingP2)
		return &ve
	}
	return nil
}

// mirrorBits returns a copy of action with the two directional bits swapped.
func mirrorBits(action []bool, left, right int) []bool {
	out := make([]bool, len(action))
	copy(out, action)
	if left < len(out) && right < len(out) {
		out[left], out[right] = out[right], out[left]
	}
	return out
}

// roundsToWin is the default first-to-ceil(format/2) rule.
func roundsToWin(format int) int {
	return (format + 1) / 2
}

// countRoundWins tallies decided rounds in a history.
func countRoundWins(history []RoundResult) (p1, p2 int) {
	for _, r := range history {
		switch r.Winner {
		case "P1":
			p1++
		case "P2":
			p2++
		}
	}
	return p1, p2
}

// adapterFactories builds a fresh instance per match. Lookup is a pure
// function of gameID.
var adapterFactories = map[string]func() Adapter{
	"sf2":    func() Adapter { return newSF2Adapter() },
	"kof3v3": func() Adapter { return newTeamAdapter() },
}

// ForGame returns a new adapter instance for the game, or an error for an
// unsupported gameID.
func ForGame(gameID string) (Adapter, error) {
	factory, ok := adapterFactories[gameID]
	if !ok {
		return nil, fmt.Errorf("arena: no adapter for game %q", gameID)
	}
	return factory(), nil
}

// SupportedGames lists registered gameIDs.
func SupportedGames() []string {
	out := make([]string, 0, len(adapterFactories))
	for id := range adapterFactories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
