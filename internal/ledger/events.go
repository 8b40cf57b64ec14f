package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Decoded contract events. Only fields the core consumes are carried.

type BetPlacedEvent struct {
	MatchID uuid.UUID
	Bettor  common.Address
	Side    uint8
	Amount  *big.Int
}

type MatchLockedEvent struct {
	MatchID uuid.UUID
}

type MatchResolvedEvent struct {
	MatchID    uuid.UUID
	Winner     uint8
	SideATotal *big.Int
	SideBTotal *big.Int
}

type MatchCancelledEvent struct {
	MatchID uuid.UUID
}

type PayoutClaimedEvent struct {
	MatchID uuid.UUID
	Bettor  common.Address
	Amount  *big.Int
}

type BetRefundedEvent struct {
	MatchID uuid.UUID
	Bettor  common.Address
	Amount  *big.Int
}

type NoWinnersRefundedEvent struct {
	MatchID uuid.UUID
}

// DecodeLog turns a raw contract log into one of the typed events above.
// Unknown topics decode to (nil, nil) and are skipped by the listener.
func DecodeLog(contractABI abi.ABI, lg types.Log) (interface{}, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	ev, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		// Not one of ours.
		return nil, nil
	}

	matchID, err := matchIDFromTopic(lg, 1)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", ev.Name, err)
	}

	switch ev.Name {
	case "BetPlaced":
		var data struct {
			Side   uint8
			Amount *big.Int
		}
		if err := contractABI.UnpackIntoInterface(&data, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("ledger: unpack BetPlaced: %w", err)
		}
		return BetPlacedEvent{MatchID: matchID, Bettor: addrFromTopic(lg, 2), Side: data.Side, Amount: data.Amount}, nil

	case "MatchLocked":
		return MatchLockedEvent{MatchID: matchID}, nil

	case "MatchResolved":
		var data struct {
			Winner     uint8
			SideATotal *big.Int
			SideBTotal *big.Int
		}
		if err := contractABI.UnpackIntoInterface(&data, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("ledger: unpack MatchResolved: %w", err)
		}
		return MatchResolvedEvent{MatchID: matchID, Winner: data.Winner, SideATotal: data.SideATotal, SideBTotal: data.SideBTotal}, nil

	case "MatchCancelled":
		return MatchCancelledEvent{MatchID: matchID}, nil

	case "PayoutClaimed":
		var data struct {
			Amount *big.Int
		}
		if err := contractABI.UnpackIntoInterface(&data, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("ledger: unpack PayoutClaimed: %w", err)
		}
		return PayoutClaimedEvent{MatchID: matchID, Bettor: addrFromTopic(lg, 2), Amount: data.Amount}, nil

	case "BetRefunded":
		var data struct {
			Amount *big.Int
		}
		if err := contractABI.UnpackIntoInterface(&data, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("ledger: unpack BetRefunded: %w", err)
		}
		return BetRefundedEvent{MatchID: matchID, Bettor: addrFromTopic(lg, 2), Amount: data.Amount}, nil

	case "NoWinnersRefunded":
		return NoWinnersRefundedEvent{MatchID: matchID}, nil
	}

	return nil, nil
}

func matchIDFromTopic(lg types.Log, idx int) (uuid.UUID, error) {
	if len(lg.Topics) <= idx {
		return uuid.Nil, fmt.Errorf("missing matchId topic")
	}
	return FromBytes32([32]byte(lg.Topics[idx]))
}

func addrFromTopic(lg types.Log, idx int) common.Address {
	if len(lg.Topics) <= idx {
		return common.Address{}
	}
	return common.BytesToAddress(lg.Topics[idx].Bytes())
}
