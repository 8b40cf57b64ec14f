// Package elo implements the rating math used for ranked matches and
// calibration seeding.
package elo

import "math"

const (
	// StartingRating is assigned on submission, before calibration.
	StartingRating = 1200

	// Provisional fighters (fewer than ProvisionalMatches ranked results)
	// move at double speed.
	ProvisionalMatches = 10
	KProvisional       = 40
	KEstablished       = 20
)

// Expected is the standard logistic expected score of a against b. Used by
// calibration to seed a starting rating from reference results.
func Expected(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// KFactor returns the K step for a fighter with the given number of ranked
// results.
func KFactor(matches int) int {
	if matches < ProvisionalMatches {
		return KProvisional
	}
	return KEstablished
}

// Update computes both fighters' new ratings after the first beats the
// second. Settlement uses a flat half-K step per side: ratings converge
// through pairing proximity (the matchmaker only pairs within the Elo
// window), so the ledger-visible delta stays a round, auditable number.
func Update(winnerElo, winnerMatches, loserElo, loserMatches int) (newWinner, newLoser int) {
	newWinner = winnerElo + KFactor(winnerMatches)/2
	newLoser = loserElo - KFactor(loserMatches)/2
	return newWinner, newLoser
}

// Seed estimates a starting rating from calibration results against
// reference opponents: the rating at which the observed score would have
// been expected, clamped to one division of movement.
func Seed(referenceElos []int, wins int) int {
	if len(referenceElos) == 0 {
		return StartingRating
	}
	sum := 0
	for _, e := range referenceElos {
		sum += e
	}
	avg := sum / len(referenceElos)
	score := float64(wins) / float64(len(referenceElos))
	// Invert the logistic curve at the average reference rating, capped at
	// +-200 so one hot calibration run cannot vault a fighter into diamond.
	var offset int
	switch {
	case score <= 0.0:
		offset = -200
	case score >= 1.0:
		offset = 200
	default:
		offset = int(math.Round(-400 * math.Log10(1/score-1)))
		if offset > 200 {
			offset = 200
		} else if offset < -200 {
			offset = -200
		}
	}
	return avg + offset
}

// Division bands. Purely cosmetic grouping derived from the rating.
func Division(elo int) string {
	switch {
	case elo >= 2000:
		return "master"
	case elo >= 1700:
		return "diamond"
	case elo >= 1500:
		return "gold"
	case elo >= 1300:
		return "silver"
	default:
		return "bronze"
	}
}
