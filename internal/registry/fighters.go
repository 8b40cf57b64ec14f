package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/models"
)

// CreateFighter inserts a newly submitted fighter in validating state.
func (r *Registry) CreateFighter(ctx context.Context, f *models.Fighter) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fighters (id, owner, game_id, character, model_ref, elo, division, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.Owner, f.GameID, f.Character, f.ModelRef, f.Elo, f.Division, f.Status, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("registry: create fighter: %w", err)
	}
	return nil
}

// GetFighter loads one fighter by id.
func (r *Registry) GetFighter(ctx context.Context, id uuid.UUID) (*models.Fighter, error) {
	var f models.Fighter
	err := r.db.GetContext(ctx, &f, `SELECT * FROM fighters WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get fighter: %w", err)
	}
	return &f, nil
}

// GetFighterPair loads both fighters of a pairing in one round trip.
func (r *Registry) GetFighterPair(ctx context.Context, a, b uuid.UUID) (*models.Fighter, *models.Fighter, error) {
	var rows []models.Fighter
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM fighters WHERE id IN ($1, $2)`, a, b)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: get fighter pair: %w", err)
	}
	var fa, fb *models.Fighter
	for i := range rows {
		switch rows[i].ID {
		case a:
			fa = &rows[i]
		case b:
			fb = &rows[i]
		}
	}
	if fa == nil || fb == nil {
		return nil, nil, ErrNotFound
	}
	return fa, fb, nil
}

// SetFighterStatus moves a fighter through the intake pipeline
// (validating -> calibrating -> ready / rejected / calibration_failed).
func (r *Registry) SetFighterStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE fighters SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("registry: set fighter status: %w", err)
	}
	return nil
}

// ApplyMatchResult updates both fighters' ratings and records after a ranked
// match resolves.
func (r *Registry) ApplyMatchResult(ctx context.Context, winnerID, loserID uuid.UUID, winnerElo, loserElo int, winnerDiv, loserDiv string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: apply match result: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE fighters SET elo = $2, division = $3, wins = wins + 1, updated_at = NOW() WHERE id = $1
	`, winnerID, winnerElo, winnerDiv); err != nil {
		return fmt.Errorf("registry: apply match result: winner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE fighters SET elo = $2, division = $3, losses = losses + 1, updated_at = NOW() WHERE id = $1
	`, loserID, loserElo, loserDiv); err != nil {
		return fmt.Errorf("registry: apply match result: loser: %w", err)
	}
	return tx.Commit()
}

// SetFighterElo writes a calibrated starting rating.
func (r *Registry) SetFighterElo(ctx context.Context, id uuid.UUID, elo int, division string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE fighters SET elo = $2, division = $3, updated_at = NOW() WHERE id = $1
	`, id, elo, division)
	if err != nil {
		return fmt.Errorf("registry: set fighter elo: %w", err)
	}
	return nil
}

// InsertCalibrationMatch records one calibration round. Rows are immutable
// once written.
func (r *Registry) InsertCalibrationMatch(ctx context.Context, cm *models.CalibrationMatch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calibration_matches (fighter_id, reference_elo, result, elo_change, attempt, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cm.FighterID, cm.ReferenceElo, cm.Result, cm.EloChange, cm.Attempt, cm.Error)
	if err != nil {
		return fmt.Errorf("registry: insert calibration match: %w", err)
	}
	return nil
}

// CalibrationMatches lists a fighter's calibration rounds, oldest first.
func (r *Registry) CalibrationMatches(ctx context.Context, fighterID uuid.UUID) ([]models.CalibrationMatch, error) {
	var out []models.CalibrationMatch
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM calibration_matches WHERE fighter_id = $1 ORDER BY id
	`, fighterID)
	if err != nil {
		return nil, fmt.Errorf("registry: calibration matches: %w", err)
	}
	return out, nil
}
