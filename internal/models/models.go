package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fighter statuses
const (
	FighterValidating        = "validating"
	FighterCalibrating       = "calibrating"
	FighterReady             = "ready"
	FighterRejected          = "rejected"
	FighterCalibrationFailed = "calibration_failed"
)

// Match statuses
const (
	MatchOpen      = "open"
	MatchLocked    = "locked"
	MatchResolved  = "resolved"
	MatchCancelled = "cancelled"
)

// Match types
const (
	MatchTypeRanked     = "ranked"
	MatchTypeChallenge  = "challenge"
	MatchTypeExhibition = "exhibition"
)

// Bet statuses
const (
	BetPending   = "pending"
	BetConfirmed = "confirmed"
	BetClaimed   = "claimed"
	BetRefunded  = "refunded"
	BetExpired   = "expired"
)

// Cancel reasons. External tooling aggregates on these tags, so the set is
// closed: add here or nowhere.
const (
	CancelValidationFailed   = "validation_failed"
	CancelFieldValidation    = "field_validation"
	CancelEngineException    = "engine_exception"
	CancelEngineNeverStarted = "engine_never_started"
	CancelHeartbeatTimeout   = "heartbeat_timeout"
	CancelMaxFramesExceeded  = "max_frames_exceeded"
	CancelNoWinner           = "terminated_no_winner"
	CancelTimeout            = "timeout"
	CancelInvalidWinner      = "invalid_winner"
	CancelCreateFailed       = "create_failed"
)

// Fighter is a trained agent submitted by a user.
type Fighter struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	Owner     string       `db:"owner" json:"owner"`
	GameID    string       `db:"game_id" json:"game_id"`
	Character string       `db:"character" json:"character"`
	ModelRef  string       `db:"model_ref" json:"model_ref"`
	Elo       int          `db:"elo" json:"elo"`
	Division  string       `db:"division" json:"division"`
	Wins      int          `db:"wins" json:"wins"`
	Losses    int          `db:"losses" json:"losses"`
	Status    string       `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at" json:"updated_at,omitempty"`
}

// RankedMatches is how many ranked results count toward the K-factor step.
func (f *Fighter) RankedMatches() int {
	return f.Wins + f.Losses
}

// Match is one scheduled contest between two fighters.
type Match struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	GameID         string          `db:"game_id" json:"game_id"`
	Format         int             `db:"format" json:"format"`
	FighterA       uuid.UUID       `db:"fighter_a" json:"fighter_a"`
	FighterB       uuid.UUID       `db:"fighter_b" json:"fighter_b"`
	WinnerID       uuid.NullUUID   `db:"winner_id" json:"winner_id,omitempty"`
	Status         string          `db:"status" json:"status"`
	MatchType      string          `db:"match_type" json:"match_type"`
	HasPool        bool            `db:"has_pool" json:"has_pool"`
	MatchHash      sql.NullString  `db:"match_hash" json:"match_hash,omitempty"`
	AdapterVersion sql.NullString  `db:"adapter_version" json:"adapter_version,omitempty"`
	RoundHistory   []byte          `db:"round_history" json:"round_history,omitempty"`
	ReplayRef      sql.NullString  `db:"replay_ref" json:"replay_ref,omitempty"`
	OnchainID      sql.NullString  `db:"onchain_id" json:"onchain_id,omitempty"`
	SideATotal     decimal.Decimal `db:"side_a_total" json:"side_a_total"`
	SideBTotal     decimal.Decimal `db:"side_b_total" json:"side_b_total"`
	CancelReason   sql.NullString  `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	StartsAt       sql.NullTime    `db:"starts_at" json:"starts_at,omitempty"`
	LockedAt       sql.NullTime    `db:"locked_at" json:"locked_at,omitempty"`
	ResolvedAt     sql.NullTime    `db:"resolved_at" json:"resolved_at,omitempty"`
	CancelledAt    sql.NullTime    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// IsTerminal reports whether the match can never transition again.
func (m *Match) IsTerminal() bool {
	return m.Status == MatchResolved || m.Status == MatchCancelled
}

// Bet is a single wager on one side of a match pool.
type Bet struct {
	ID         int64           `db:"id" json:"id"`
	MatchID    uuid.UUID       `db:"match_id" json:"match_id"`
	Wallet     string          `db:"wallet" json:"wallet"`
	Side       string          `db:"side" json:"side"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	OnchainRef sql.NullString  `db:"onchain_ref" json:"onchain_ref,omitempty"`
	Status     string          `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	ClaimedAt  sql.NullTime    `db:"claimed_at" json:"claimed_at,omitempty"`
}

// CalibrationMatch is one calibration round against a reference opponent.
type CalibrationMatch struct {
	ID           int64          `db:"id" json:"id"`
	FighterID    uuid.UUID      `db:"fighter_id" json:"fighter_id"`
	ReferenceElo int            `db:"reference_elo" json:"reference_elo"`
	Result       sql.NullString `db:"result" json:"result,omitempty"`
	EloChange    int            `db:"elo_change" json:"elo_change"`
	Attempt      int            `db:"attempt" json:"attempt"`
	Error        sql.NullString `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// FailedUpload statuses
const (
	UploadFailed   = "failed"
	UploadRetrying = "retrying"
	UploadResolved = "resolved"
)

// FailedUpload is a dead-letter row for a content-store write that exhausted
// its retries. A NULL payload means the bytes were not worth persisting
// (replay data); such rows are informational and never retried.
type FailedUpload struct {
	ID         int64          `db:"id" json:"id"`
	MatchID    uuid.UUID      `db:"match_id" json:"match_id"`
	Key        string         `db:"key" json:"key"`
	RetryCount int            `db:"retry_count" json:"retry_count"`
	LastError  sql.NullString `db:"last_error" json:"last_error,omitempty"`
	Status     string         `db:"status" json:"status"`
	Payload    []byte         `db:"payload" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  sql.NullTime   `db:"updated_at" json:"updated_at,omitempty"`
}
