package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rawlclub/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("registry: not found")
	// ErrTerminal is returned when a transition targets a match already in a
	// terminal state. Callers treat it as a no-op, not a failure.
	ErrTerminal = errors.New("registry: match is terminal")
)

// Registry is the durable store of match/bet/fighter rows. It is the only
// writer of these tables; every status transition is conditional on the
// observed current status so concurrent writers (runner, listener, watchdog)
// cannot clobber each other.
type Registry struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Registry {
	return &Registry{db: db}
}

// DB exposes the underlying handle for callers that need transactions
// spanning registry tables (scheduler pairing, calibration).
func (r *Registry) DB() *sqlx.DB { return r.db }

// CreateMatch inserts a new open match row.
func (r *Registry) CreateMatch(ctx context.Context, m *models.Match) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO matches (id, game_id, format, fighter_a, fighter_b, status, match_type, has_pool, created_at, starts_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.GameID, m.Format, m.FighterA, m.FighterB, m.Status, m.MatchType, m.HasPool, m.CreatedAt, m.StartsAt)
	if err != nil {
		return fmt.Errorf("registry: create match: %w", err)
	}
	return nil
}

// GetMatch loads one match by id.
func (r *Registry) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	err := r.db.GetContext(ctx, &m, `SELECT * FROM matches WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get match: %w", err)
	}
	return &m, nil
}

// ListMatches returns recent matches, newest first.
func (r *Registry) ListMatches(ctx context.Context, status string, limit int) ([]models.Match, error) {
	var out []models.Match
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &out, `SELECT * FROM matches ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &out, `SELECT * FROM matches WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: list matches: %w", err)
	}
	return out, nil
}

// LockedMatches returns every match currently in the locked state, for the
// heartbeat watchdog sweep.
func (r *Registry) LockedMatches(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM matches WHERE status = 'locked'`)
	if err != nil {
		return nil, fmt.Errorf("registry: locked matches: %w", err)
	}
	return out, nil
}

// StaleLockedMatches returns locked matches whose lock age (falling back to
// creation time when locked_at was never mirrored) exceeds the cutoff.
func (r *Registry) StaleLockedMatches(ctx context.Context, olderThan time.Duration) ([]models.Match, error) {
	var out []models.Match
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM matches
		WHERE status = 'locked'
		  AND COALESCE(locked_at, created_at) < NOW() - $1 * INTERVAL '1 second'
	`, int64(olderThan.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("registry: stale locked matches: %w", err)
	}
	return out, nil
}

// MarkLocked transitions open -> locked. Idempotent: a match already locked
// (or terminal) is left untouched.
func (r *Registry) MarkLocked(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET status = 'locked', locked_at = $2
		WHERE id = $1 AND status = 'open'
	`, id, at)
	if err != nil {
		return fmt.Errorf("registry: mark locked: %w", err)
	}
	return noRowsIsTerminal(ctx, r, id, res)
}

// ResolveParams carries everything the runner produced for a finished match.
type ResolveParams struct {
	WinnerID       uuid.UUID
	MatchHash      string
	AdapterVersion string
	RoundHistory   []byte
	ReplayRef      string // empty when the replay upload failed
}

// MarkResolved transitions locked -> resolved with the runner's result.
// An empty ReplayRef leaves replay_ref NULL (upload failed, hash persisted
// via the dead-letter queue).
func (r *Registry) MarkResolved(ctx context.Context, id uuid.UUID, p ResolveParams, at time.Time) error {
	replay := sql.NullString{String: p.ReplayRef, Valid: p.ReplayRef != ""}
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'resolved', winner_id = $2, match_hash = $3, adapter_version = $4,
		    round_history = $5, replay_ref = $6, resolved_at = $7
		WHERE id = $1 AND status IN ('open', 'locked', 'pending_resolution')
	`, id, p.WinnerID, p.MatchHash, p.AdapterVersion, p.RoundHistory, replay, at)
	if err != nil {
		return fmt.Errorf("registry: mark resolved: %w", err)
	}
	return noRowsIsTerminal(ctx, r, id, res)
}

// MarkResolvedFromEvent is the event-listener mirror of MatchResolved: it
// owns the authoritative timestamp and side totals but never overwrites the
// runner's hash or winner when those are already present.
func (r *Registry) MarkResolvedFromEvent(ctx context.Context, id uuid.UUID, winnerID uuid.NullUUID, sideA, sideB decimal.Decimal, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'resolved',
		    winner_id = COALESCE(winner_id, $2),
		    side_a_total = $3, side_b_total = $4,
		    resolved_at = COALESCE(resolved_at, $5)
		WHERE id = $1 AND status IN ('open', 'locked', 'pending_resolution', 'resolved')
	`, id, winnerID, sideA, sideB, at)
	if err != nil {
		return fmt.Errorf("registry: mark resolved from event: %w", err)
	}
	return noRowsIsTerminal(ctx, r, id, res)
}

// MarkCancelled transitions a non-terminal match to cancelled with an
// enumerated reason tag.
func (r *Registry) MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = $3
		WHERE id = $1 AND status NOT IN ('resolved', 'cancelled')
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("registry: mark cancelled: %w", err)
	}
	return noRowsIsTerminal(ctx, r, id, res)
}

// AddSideTotal accumulates a confirmed bet amount onto one side's pool
// total. Only the event listener calls this (single authoritative writer).
func (r *Registry) AddSideTotal(ctx context.Context, id uuid.UUID, side string, amount decimal.Decimal) error {
	col := "side_a_total"
	if side == "B" {
		col = "side_b_total"
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE matches SET `+col+` = `+col+` + $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("registry: add side total: %w", err)
	}
	return nil
}

// noRowsIsTerminal distinguishes "already terminal" from "missing" when a
// conditional transition matched nothing.
func noRowsIsTerminal(ctx context.Context, r *Registry, id uuid.UUID, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	m, err := r.GetMatch(ctx, id)
	if err != nil {
		return err
	}
	if m.IsTerminal() {
		return ErrTerminal
	}
	return nil
}
