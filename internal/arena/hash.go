package arena

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashVersion is bumped whenever the canonical payload layout changes.
const HashVersion = 2

// HashPayload is the canonical, hashable record of a finished match. Field
// order matters: encoding/json emits struct fields in declaration order, and
// the keys below are declared lexicographically, which is the canonical
// form. Nested types follow the same rule.
type HashPayload struct {
	Actions        [][2]uint32      `json:"actions"`
	AdapterVersion string           `json:"adapter_version"`
	HashVersion    int              `json:"hash_version"`
	MatchID        string           `json:"match_id"`
	Rounds         []CanonicalRound `json:"rounds"`
	Winner         string           `json:"winner"`
}

// CanonicalRound mirrors RoundResult with lexicographic keys.
type CanonicalRound struct {
	P1Health float64 `json:"p1_health"`
	P2Health float64 `json:"p2_health"`
	Winner   string  `json:"winner"`
}

// CanonicalSerialize produces the byte-exact payload: sorted keys, no
// insignificant whitespace. The same bytes are uploaded and hashed, so
// there is exactly one serialization in play.
func CanonicalSerialize(p *HashPayload) ([]byte, error) {
	if p.Actions == nil {
		p.Actions = [][2]uint32{}
	}
	if p.Rounds == nil {
		p.Rounds = []CanonicalRound{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("arena: canonical serialize: %w", err)
	}
	return data, nil
}

// MatchHash is the lowercase hex SHA-256 of the canonical payload bytes.
func MatchHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// DecodeHashPayload is the inverse of CanonicalSerialize, used by replay
// verification.
func DecodeHashPayload(data []byte) (*HashPayload, error) {
	var p HashPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("arena: decode hash payload: %w", err)
	}
	return &p, nil
}

// CanonicalRounds converts the runner's round history to its canonical form.
func CanonicalRounds(history []RoundResult) []CanonicalRound {
	out := make([]CanonicalRound, len(history))
	for i, r := range history {
		out[i] = CanonicalRound{P1Health: r.P1Health, P2Health: r.P2Health, Winner: r.Winner}
	}
	return out
}
