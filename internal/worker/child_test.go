package worker

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/models"
)

func round(attempt int, result string, refElo int) models.CalibrationMatch {
	cm := models.CalibrationMatch{Attempt: attempt, ReferenceElo: refElo}
	if result != "" {
		cm.Result = sql.NullString{String: result, Valid: true}
	}
	return cm
}

func TestDecideCalibration(t *testing.T) {
	cases := []struct {
		name        string
		rounds      []models.CalibrationMatch
		attempt     int
		wantOutcome string
		wantWins    int
	}{
		{
			"attempt in progress",
			[]models.CalibrationMatch{round(1, "win", 1000), round(1, "loss", 1100)},
			1, CalibrationIncomplete, 0,
		},
		{
			"full attempt seeds",
			[]models.CalibrationMatch{
				round(1, "win", 1000), round(1, "win", 1100), round(1, "loss", 1200),
			},
			1, CalibrationSeeded, 2,
		},
		{
			"errored rounds count toward completion but not the seed",
			[]models.CalibrationMatch{
				round(1, "win", 1000), round(1, "", 1100), round(1, "loss", 1200),
			},
			1, CalibrationSeeded, 1,
		},
		{
			"all errored retries",
			[]models.CalibrationMatch{
				round(1, "", 1000), round(1, "", 1100), round(1, "", 1200),
			},
			1, CalibrationRetry, 0,
		},
		{
			"all errored on final attempt fails",
			[]models.CalibrationMatch{
				round(3, "", 1000), round(3, "", 1100), round(3, "", 1200),
			},
			3, CalibrationFailed, 0,
		},
		{
			"earlier attempts ignored",
			[]models.CalibrationMatch{
				round(1, "", 1000), round(1, "", 1100), round(1, "", 1200),
				round(2, "win", 1000), round(2, "win", 1100), round(2, "win", 1200),
			},
			2, CalibrationSeeded, 3,
		},
	}
	for _, c := range cases {
		d := DecideCalibration(c.rounds, c.attempt, 3, 3)
		if d.Outcome != c.wantOutcome {
			t.Errorf("%s: outcome = %q, want %q", c.name, d.Outcome, c.wantOutcome)
		}
		if d.Wins != c.wantWins {
			t.Errorf("%s: wins = %d, want %d", c.name, d.Wins, c.wantWins)
		}
	}
}

func TestCalibrationPlan(t *testing.T) {
	fighter := uuid.New()
	plan := CalibrationPlan(fighter, "sf2", "models/new.bin", 3, 2)
	if len(plan) != len(referenceLadder) {
		t.Fatalf("plan size = %d, want %d", len(plan), len(referenceLadder))
	}
	seen := map[uuid.UUID]bool{}
	for i, job := range plan {
		if !job.Calibration {
			t.Error("plan job not marked calibration")
		}
		if job.FighterA != fighter {
			t.Error("new fighter must be side A")
		}
		if job.ReferenceElo != referenceLadder[i] {
			t.Errorf("job %d reference elo = %d, want %d", i, job.ReferenceElo, referenceLadder[i])
		}
		if job.ModelRefB != ReferenceModelRef("sf2", referenceLadder[i]) {
			t.Errorf("job %d reference ref = %q", i, job.ModelRefB)
		}
		if job.Attempt != 2 {
			t.Errorf("job %d attempt = %d, want 2", i, job.Attempt)
		}
		if seen[job.MatchID] {
			t.Error("duplicate match id in plan")
		}
		seen[job.MatchID] = true
	}
}
