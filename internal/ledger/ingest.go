package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/registry"
)

const oddsTTL = 5 * time.Minute

// Ingest is the authoritative mirror of contract state onto registry rows.
// It is the only writer of bet confirmations and match side totals.
type Ingest struct {
	reg *registry.Registry
	rdb *redis.Client
}

func NewIngest(reg *registry.Registry, rdb *redis.Client) *Ingest {
	return &Ingest{reg: reg, rdb: rdb}
}

func (in *Ingest) HandleBetPlaced(ctx context.Context, ev BetPlacedEvent) error {
	side, err := SideLabel(ev.Side)
	if err != nil {
		return err
	}
	amount := decimal.NewFromBigInt(ev.Amount, 0)
	wallet := ev.Bettor.Hex()

	confirmed, err := in.reg.UpsertConfirmedBet(ctx, ev.MatchID, wallet, side, amount, "")
	if err != nil {
		return err
	}
	if !confirmed {
		// Replayed block range; totals were already counted.
		return nil
	}
	if err := in.reg.AddSideTotal(ctx, ev.MatchID, side, amount); err != nil {
		return err
	}
	log.Printf("[LISTENER] BetPlaced match=%s wallet=%s side=%s amount=%s", ev.MatchID, wallet, side, amount)
	return in.publishOdds(ctx, ev.MatchID)
}

func (in *Ingest) HandleMatchLocked(ctx context.Context, ev MatchLockedEvent) error {
	err := in.reg.MarkLocked(ctx, ev.MatchID, time.Now())
	if err == registry.ErrTerminal {
		return nil
	}
	if err == nil {
		log.Printf("[LISTENER] MatchLocked match=%s", ev.MatchID)
	}
	return err
}

func (in *Ingest) HandleMatchResolved(ctx context.Context, ev MatchResolvedEvent) error {
	m, err := in.reg.GetMatch(ctx, ev.MatchID)
	if err == registry.ErrNotFound {
		log.Printf("[LISTENER] MatchResolved for unknown match %s, ignoring", ev.MatchID)
		return nil
	}
	if err != nil {
		return err
	}
	winner := uuid.NullUUID{UUID: m.FighterA, Valid: true}
	if ev.Winner == SideB {
		winner.UUID = m.FighterB
	}
	sideA := decimal.NewFromBigInt(ev.SideATotal, 0)
	sideB := decimal.NewFromBigInt(ev.SideBTotal, 0)
	err = in.reg.MarkResolvedFromEvent(ctx, ev.MatchID, winner, sideA, sideB, time.Now())
	if err == registry.ErrTerminal {
		return nil
	}
	if err == nil {
		log.Printf("[LISTENER] MatchResolved match=%s winner=%d pool=%s/%s", ev.MatchID, ev.Winner, sideA, sideB)
	}
	return err
}

func (in *Ingest) HandleMatchCancelled(ctx context.Context, ev MatchCancelledEvent) error {
	err := in.reg.MarkCancelled(ctx, ev.MatchID, models.CancelTimeout, time.Now())
	if err == registry.ErrTerminal {
		// Runner or watchdog already recorded a more specific reason.
		return nil
	}
	if err == nil {
		log.Printf("[LISTENER] MatchCancelled match=%s", ev.MatchID)
	}
	return err
}

func (in *Ingest) HandlePayoutClaimed(ctx context.Context, ev PayoutClaimedEvent) error {
	log.Printf("[LISTENER] PayoutClaimed match=%s wallet=%s", ev.MatchID, ev.Bettor.Hex())
	return in.reg.SetBetStatus(ctx, ev.MatchID, ev.Bettor.Hex(), models.BetClaimed,
		models.BetConfirmed, models.BetPending)
}

func (in *Ingest) HandleBetRefunded(ctx context.Context, ev BetRefundedEvent) error {
	log.Printf("[LISTENER] BetRefunded match=%s wallet=%s", ev.MatchID, ev.Bettor.Hex())
	return in.reg.SetBetStatus(ctx, ev.MatchID, ev.Bettor.Hex(), models.BetRefunded,
		models.BetConfirmed, models.BetPending)
}

func (in *Ingest) HandleNoWinnersRefunded(ctx context.Context, ev NoWinnersRefundedEvent) error {
	log.Printf("[LISTENER] NoWinnersRefunded match=%s", ev.MatchID)
	return in.reg.RefundConfirmedBets(ctx, ev.MatchID)
}

// oddsPayload is what spectator clients read from odds:{matchHex}.
type oddsPayload struct {
	MatchID    string `json:"match_id"`
	SideATotal string `json:"side_a_total"`
	SideBTotal string `json:"side_b_total"`
	OddsA      string `json:"odds_a"`
	OddsB      string `json:"odds_b"`
	UpdatedAt  int64  `json:"updated_at"`
}

// publishOdds recomputes implied pari-mutuel odds from the registry totals
// and writes them with a 5 minute TTL.
func (in *Ingest) publishOdds(ctx context.Context, matchID uuid.UUID) error {
	m, err := in.reg.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	oddsA, oddsB := ImpliedOdds(m.SideATotal, m.SideBTotal)
	payload, err := json.Marshal(oddsPayload{
		MatchID:    matchID.String(),
		SideATotal: m.SideATotal.String(),
		SideBTotal: m.SideBTotal.String(),
		OddsA:      oddsA.StringFixed(4),
		OddsB:      oddsB.StringFixed(4),
		UpdatedAt:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal odds: %w", err)
	}
	key := "odds:" + MatchHex(matchID)
	if err := in.rdb.Set(ctx, key, payload, oddsTTL).Err(); err != nil {
		return fmt.Errorf("ledger: publish odds: %w", err)
	}
	return nil
}

// ImpliedOdds is the pari-mutuel multiple each side would pay at the current
// totals (gross pool over side stake). A side with no stake pays zero until
// someone takes it.
func ImpliedOdds(sideA, sideB decimal.Decimal) (oddsA, oddsB decimal.Decimal) {
	pool := sideA.Add(sideB)
	if sideA.IsPositive() {
		oddsA = pool.Div(sideA)
	}
	if sideB.IsPositive() {
		oddsB = pool.Div(sideB)
	}
	return oddsA, oddsB
}
