package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rawlclub/backend/internal/models"
)

// UpsertConfirmedBet is the BetPlaced ingestion path. The (match_id, wallet)
// pair is unique; a pending row placed through the API is promoted in place,
// a bet seen first on chain is inserted directly as confirmed. Returns true
// when the row was newly confirmed (so side totals are added exactly once).
func (r *Registry) UpsertConfirmedBet(ctx context.Context, matchID uuid.UUID, wallet, side string, amount decimal.Decimal, onchainRef string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO bets (match_id, wallet, side, amount, onchain_ref, status)
		VALUES ($1, $2, $3, $4, $5, 'confirmed')
		ON CONFLICT (match_id, wallet) DO UPDATE
		SET side = EXCLUDED.side, amount = EXCLUDED.amount,
		    onchain_ref = EXCLUDED.onchain_ref, status = 'confirmed'
		WHERE bets.status = 'pending'
	`, matchID, wallet, side, amount, onchainRef)
	if err != nil {
		return false, fmt.Errorf("registry: upsert confirmed bet: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertPendingBet records a wager the API saw before the chain did.
func (r *Registry) InsertPendingBet(ctx context.Context, matchID uuid.UUID, wallet, side string, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bets (match_id, wallet, side, amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, matchID, wallet, side, amount)
	if err != nil {
		return fmt.Errorf("registry: insert pending bet: %w", err)
	}
	return nil
}

// GetBet loads the single bet a wallet holds on a match.
func (r *Registry) GetBet(ctx context.Context, matchID uuid.UUID, wallet string) (*models.Bet, error) {
	var b models.Bet
	err := r.db.GetContext(ctx, &b, `SELECT * FROM bets WHERE match_id = $1 AND wallet = $2`, matchID, wallet)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get bet: %w", err)
	}
	return &b, nil
}

// SetBetStatus moves a bet to a new status conditional on the statuses it may
// currently hold. Terminal bet states are never rewritten.
func (r *Registry) SetBetStatus(ctx context.Context, matchID uuid.UUID, wallet, status string, from ...string) error {
	query, args, err := buildBetTransition(matchID, wallet, status, from)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("registry: set bet status: %w", err)
	}
	return nil
}

func buildBetTransition(matchID uuid.UUID, wallet, status string, from []string) (string, []interface{}, error) {
	if len(from) == 0 {
		return "", nil, fmt.Errorf("registry: bet transition requires source statuses")
	}
	query := `UPDATE bets SET status = $3`
	if status == models.BetClaimed || status == models.BetRefunded {
		query += `, claimed_at = NOW()`
	}
	query += ` WHERE match_id = $1 AND wallet = $2 AND status IN (`
	args := []interface{}{matchID, wallet, status}
	for i, s := range from {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}
	query += ")"
	return query, args, nil
}

// ConfirmedBetsOnFinishedMatches returns up to limit confirmed bets whose
// match has reached a terminal state, joined with that terminal status, for
// reconciler phase A.
type FinishedBet struct {
	models.Bet
	MatchStatus string `db:"match_status"`
}

func (r *Registry) ConfirmedBetsOnFinishedMatches(ctx context.Context, limit int) ([]FinishedBet, error) {
	var out []FinishedBet
	err := r.db.SelectContext(ctx, &out, `
		SELECT b.*, m.status AS match_status
		FROM bets b
		JOIN matches m ON m.id = b.match_id
		WHERE b.status = 'confirmed'
		  AND m.status IN ('resolved', 'cancelled')
		ORDER BY b.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: confirmed bets on finished matches: %w", err)
	}
	return out, nil
}

// StalePendingBets returns up to limit pending bets older than the cutoff,
// for reconciler phase B.
func (r *Registry) StalePendingBets(ctx context.Context, olderThan time.Duration, limit int) ([]models.Bet, error) {
	var out []models.Bet
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM bets
		WHERE status = 'pending'
		  AND created_at < NOW() - $1 * INTERVAL '1 second'
		ORDER BY created_at
		LIMIT $2
	`, int64(olderThan.Seconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("registry: stale pending bets: %w", err)
	}
	return out, nil
}

// RefundConfirmedBets flips every live bet on a match to refunded, for the
// NoWinnersRefunded event (whole pool returned).
func (r *Registry) RefundConfirmedBets(ctx context.Context, matchID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bets SET status = 'refunded', claimed_at = NOW()
		WHERE match_id = $1 AND status IN ('pending', 'confirmed')
	`, matchID)
	if err != nil {
		return fmt.Errorf("registry: refund confirmed bets: %w", err)
	}
	return nil
}

// BetsForMatch lists all bets on a match, for the API surface.
func (r *Registry) BetsForMatch(ctx context.Context, matchID uuid.UUID) ([]models.Bet, error) {
	var out []models.Bet
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM bets WHERE match_id = $1 ORDER BY created_at`, matchID)
	if err != nil {
		return nil, fmt.Errorf("registry: bets for match: %w", err)
	}
	return out, nil
}
