// Package ledger is the boundary to the on-chain betting contract: outgoing
// match lifecycle transactions with bounded retries, view reads for
// reconciliation, and the event listener that mirrors contract state into
// the registry.
package ledger

import (
	"context"
	"math/big"

	"github.com/google/uuid"
)

// Pool is the contract's view of a match pool.
type Pool struct {
	Status     uint8
	SideATotal *big.Int
	SideBTotal *big.Int
}

// ChainBet is the contract's view of one wallet's bet.
type ChainBet struct {
	Side    uint8
	Amount  *big.Int
	Claimed bool
}

// Ledger is the adapter the lifecycle loops call. The EVM implementation
// retries transiently with [1,2,4]s backoff inside a 60s envelope; tests
// use an in-memory fake.
type Ledger interface {
	CreateMatch(ctx context.Context, matchID, fighterA, fighterB uuid.UUID, minBet *big.Int, bettingWindowSecs uint64) error
	LockMatch(ctx context.Context, matchID uuid.UUID) error
	ResolveMatch(ctx context.Context, matchID uuid.UUID, winner uint8) error
	CancelMatch(ctx context.Context, matchID uuid.UUID) error
	// TimeoutMatch is permissionless on chain; anyone may submit it for a
	// match locked past the contract's deadline.
	TimeoutMatch(ctx context.Context, matchID uuid.UUID) error

	// GetMatchPool returns nil when the match does not exist on chain.
	GetMatchPool(ctx context.Context, matchID uuid.UUID) (*Pool, error)
	// GetBet returns nil when the wallet holds no bet on the match.
	GetBet(ctx context.Context, matchID uuid.UUID, wallet string) (*ChainBet, error)
	// BetExists is three-valued: (true, nil), (false, nil), or
	// (false, err) on RPC failure. Callers must never mutate on err.
	BetExists(ctx context.Context, matchID uuid.UUID, wallet string) (bool, error)
}
