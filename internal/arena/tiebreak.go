package arena

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// Tiebreak resolves a drawn match to a single winner. The cascade stops at
// the first differentiator and always lands on P1 or P2:
//
//  1. total health differential over all rounds
//  2. round wins
//  3. last-round health
//  4. deterministic coin flip on the match id
func Tiebreak(matchID uuid.UUID, history []RoundResult) string {
	var totalP1, totalP2 float64
	for _, r := range history {
		totalP1 += r.P1Health
		totalP2 += r.P2Health
	}
	if totalP1 > totalP2 {
		return "P1"
	}
	if totalP2 > totalP1 {
		return "P2"
	}

	winsP1, winsP2 := countRoundWins(history)
	if winsP1 > winsP2 {
		return "P1"
	}
	if winsP2 > winsP1 {
		return "P2"
	}

	if n := len(history); n > 0 {
		last := history[n-1]
		if last.P1Health > last.P2Health {
			return "P1"
		}
		if last.P2Health > last.P1Health {
			return "P2"
		}
	}

	return coinFlip(matchID)
}

// coinFlip is SHA-256(matchId) taken mod 2: even picks P1, odd picks P2.
// Both sides can recompute it from public data.
func coinFlip(matchID uuid.UUID) string {
	sum := sha256.Sum256([]byte(matchID.String()))
	if sum[len(sum)-1]%2 == 0 {
		return "P1"
	}
	return "P2"
}
