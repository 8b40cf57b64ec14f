package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
)

const cursorKey = "rawl:listener:cursor"

// chainReader is the slice of ethclient the listener needs; faked in tests.
type chainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Sink receives decoded events in block order. Implemented by the registry
// ingest in this package; faked in tests.
type Sink interface {
	HandleBetPlaced(ctx context.Context, ev BetPlacedEvent) error
	HandleMatchLocked(ctx context.Context, ev MatchLockedEvent) error
	HandleMatchResolved(ctx context.Context, ev MatchResolvedEvent) error
	HandleMatchCancelled(ctx context.Context, ev MatchCancelledEvent) error
	HandlePayoutClaimed(ctx context.Context, ev PayoutClaimedEvent) error
	HandleBetRefunded(ctx context.Context, ev BetRefundedEvent) error
	HandleNoWinnersRefunded(ctx context.Context, ev NoWinnersRefundedEvent) error
}

// ListenerConfig carries the polling knobs.
type ListenerConfig struct {
	PollInterval  time.Duration
	MaxBlockRange uint64
	MaxCatchup    uint64
}

// Listener tails contract logs and applies them through the Sink. A single
// listener instance runs per deployment so events for one match are applied
// in block order.
type Listener struct {
	client   chainReader
	rdb      *redis.Client
	contract common.Address
	abi      abi.ABI
	sink     Sink
	cfg      ListenerConfig

	cursor uint64
}

func NewListener(e *EVM, rdb *redis.Client, sink Sink, cfg ListenerConfig) *Listener {
	return &Listener{
		client:   e.Client(),
		rdb:      rdb,
		contract: e.Contract(),
		abi:      e.ABI(),
		sink:     sink,
		cfg:      cfg,
	}
}

// Run polls until the context is cancelled, reconnecting with exponential
// backoff (1s doubling to a 30s cap) after any RPC failure.
func (l *Listener) Run(ctx context.Context) {
	log.Printf("[LISTENER] Starting event listener (poll every %v)", l.cfg.PollInterval)

	if err := l.loadCursor(ctx); err != nil {
		log.Printf("[LISTENER] Failed to load cursor, starting from head: %v", err)
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			log.Printf("[LISTENER] Listener stopped")
			return
		case <-time.After(l.cfg.PollInterval):
		}

		if err := l.poll(ctx); err != nil {
			log.Printf("[LISTENER] Poll failed, backing off %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) loadCursor(ctx context.Context) error {
	val, err := l.rdb.Get(ctx, cursorKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	cur, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt cursor %q: %w", val, err)
	}
	l.cursor = cur
	log.Printf("[LISTENER] Resuming from block %d", cur)
	return nil
}

func (l *Listener) saveCursor(ctx context.Context, block uint64) {
	l.cursor = block
	if err := l.rdb.Set(ctx, cursorKey, strconv.FormatUint(block, 10), 0).Err(); err != nil {
		log.Printf("[LISTENER] Failed to persist cursor %d: %v", block, err)
	}
}

// poll processes every block from cursor+1 to head in ranges of at most
// MaxBlockRange, persisting the cursor after each successful range.
func (l *Listener) poll(ctx context.Context) error {
	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	if head <= l.cursor {
		return nil
	}

	from := l.cursor + 1
	if l.cursor == 0 || head-l.cursor > l.cfg.MaxCatchup {
		// Too far behind to replay: skip to head. Reconciliation catches
		// anything missed in the gap.
		log.Printf("[LISTENER] Cursor %d is more than %d behind head %d, skipping to head", l.cursor, l.cfg.MaxCatchup, head)
		l.saveCursor(ctx, head)
		return nil
	}

	for from <= head {
		to := from + l.cfg.MaxBlockRange - 1
		if to > head {
			to = head
		}
		logs, err := l.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{l.contract},
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
		for _, lg := range logs {
			if err := l.dispatch(ctx, lg); err != nil {
				// Log and continue: one malformed event must not wedge the
				// cursor forever.
				log.Printf("[LISTENER] Failed to apply log tx=%s idx=%d: %v", lg.TxHash.Hex(), lg.Index, err)
			}
		}
		l.saveCursor(ctx, to)
		from = to + 1
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, lg types.Log) error {
	decoded, err := DecodeLog(l.abi, lg)
	if err != nil {
		return err
	}
	switch ev := decoded.(type) {
	case nil:
		return nil
	case BetPlacedEvent:
		return l.sink.HandleBetPlaced(ctx, ev)
	case MatchLockedEvent:
		return l.sink.HandleMatchLocked(ctx, ev)
	case MatchResolvedEvent:
		return l.sink.HandleMatchResolved(ctx, ev)
	case MatchCancelledEvent:
		return l.sink.HandleMatchCancelled(ctx, ev)
	case PayoutClaimedEvent:
		return l.sink.HandlePayoutClaimed(ctx, ev)
	case BetRefundedEvent:
		return l.sink.HandleBetRefunded(ctx, ev)
	case NoWinnersRefundedEvent:
		return l.sink.HandleNoWinnersRefunded(ctx, ev)
	}
	return nil
}
