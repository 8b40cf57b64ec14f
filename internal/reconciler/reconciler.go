// Package reconciler keeps bet rows eventually consistent with the chain
// and times out matches the happy path abandoned. The event listener is the
// fast path; the reconciler catches everything it missed.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/registry"
)

const sweepBatch = 50

// DecideFinished is the phase A rule for one confirmed bet on a finished
// match. Returns the new bet status, or "" to leave the row alone. An RPC
// error always leaves the row untouched; the next sweep retries.
func DecideFinished(matchStatus string, bet *ledger.ChainBet, err error) string {
	if err != nil || bet == nil {
		return ""
	}
	if !bet.Claimed {
		return ""
	}
	if matchStatus == models.MatchCancelled {
		return models.BetRefunded
	}
	return models.BetClaimed
}

// DecidePending is the phase B rule for one stale pending bet: the chain
// either confirms the bet exists or proves the wallet never followed
// through.
func DecidePending(exists bool, err error) string {
	if err != nil {
		return ""
	}
	if exists {
		return models.BetConfirmed
	}
	return models.BetExpired
}

type Reconciler struct {
	reg    *registry.Registry
	ledger ledger.Ledger
	cfg    *config.Config
}

func New(reg *registry.Registry, lg ledger.Ledger, cfg *config.Config) *Reconciler {
	return &Reconciler{reg: reg, ledger: lg, cfg: cfg}
}

// Run sweeps both phases every ReconcilerPollSeconds.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.ReconcilerPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[RECONCILER] started, poll every %ds", r.cfg.ReconcilerPollSeconds)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[RECONCILER] stopped")
			return
		case <-ticker.C:
			r.sweepFinished(ctx)
			r.sweepPending(ctx)
		}
	}
}

// sweepFinished settles confirmed bets on resolved or cancelled matches
// whose payout the listener never saw.
func (r *Reconciler) sweepFinished(ctx context.Context) {
	bets, err := r.reg.ConfirmedBetsOnFinishedMatches(ctx, sweepBatch)
	if err != nil {
		log.Printf("[RECONCILER] load finished bets: %v", err)
		return
	}
	for _, b := range bets {
		chainBet, err := r.ledger.GetBet(ctx, b.MatchID, b.Wallet)
		status := DecideFinished(b.MatchStatus, chainBet, err)
		if err != nil {
			log.Printf("[RECONCILER] bet %s/%s: chain read: %v", b.MatchID, b.Wallet, err)
		}
		if status == "" {
			continue
		}
		if err := r.reg.SetBetStatus(ctx, b.MatchID, b.Wallet, status, models.BetConfirmed); err != nil {
			log.Printf("[RECONCILER] bet %s/%s -> %s: %v", b.MatchID, b.Wallet, status, err)
			continue
		}
		log.Printf("[RECONCILER] bet %s/%s -> %s", b.MatchID, b.Wallet, status)
	}
}

// sweepPending expires or confirms pending bets older than an hour.
func (r *Reconciler) sweepPending(ctx context.Context) {
	bets, err := r.reg.StalePendingBets(ctx, time.Hour, sweepBatch)
	if err != nil {
		log.Printf("[RECONCILER] load pending bets: %v", err)
		return
	}
	for _, b := range bets {
		exists, err := r.ledger.BetExists(ctx, b.MatchID, b.Wallet)
		status := DecidePending(exists, err)
		if err != nil {
			log.Printf("[RECONCILER] bet %s/%s: chain read: %v", b.MatchID, b.Wallet, err)
		}
		if status == "" {
			continue
		}
		if err := r.reg.SetBetStatus(ctx, b.MatchID, b.Wallet, status, models.BetPending); err != nil {
			log.Printf("[RECONCILER] bet %s/%s -> %s: %v", b.MatchID, b.Wallet, status, err)
			continue
		}
		log.Printf("[RECONCILER] stale pending bet %s/%s -> %s", b.MatchID, b.Wallet, status)
	}
}

// Timeout is the stale-match loop: matches locked longer than the contract
// deadline get the permissionless timeoutMatch so bettors can self-refund.
type Timeout struct {
	reg    *registry.Registry
	ledger ledger.Ledger
	cfg    *config.Config
}

func NewTimeout(reg *registry.Registry, lg ledger.Ledger, cfg *config.Config) *Timeout {
	return &Timeout{reg: reg, ledger: lg, cfg: cfg}
}

func (t *Timeout) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(t.cfg.StaleMatchPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[RECONCILER] stale-match timeout started, poll every %ds", t.cfg.StaleMatchPollSeconds)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *Timeout) sweep(ctx context.Context) {
	cutoff := time.Duration(t.cfg.StaleMatchTimeoutMins) * time.Minute
	matches, err := t.reg.StaleLockedMatches(ctx, cutoff)
	if err != nil {
		log.Printf("[RECONCILER] load stale matches: %v", err)
		return
	}
	for i := range matches {
		m := &matches[i]
		if m.HasPool {
			if err := t.ledger.TimeoutMatch(ctx, m.ID); err != nil {
				log.Printf("[RECONCILER] match %s: timeout tx: %v", m.ID, err)
				continue
			}
		}
		if err := t.reg.MarkCancelled(ctx, m.ID, models.CancelTimeout, time.Now()); err != nil {
			log.Printf("[RECONCILER] match %s: mark cancelled: %v", m.ID, err)
			continue
		}
		log.Printf("[RECONCILER] match %s timed out after %v locked", m.ID, cutoff)
	}
}
