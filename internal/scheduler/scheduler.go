// Package scheduler turns matchmaker pairs into scheduled matches: a match
// row, an on-chain pool with a betting window, and a deferred emulation job
// that fires when the window closes. The promoter is the companion loop that
// moves due jobs onto the active tiers.
package scheduler

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/matchmaker"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
)

type Scheduler struct {
	reg    *registry.Registry
	mm     *matchmaker.Matchmaker
	jobs   *queue.Emulation
	ledger ledger.Ledger
	cfg    *config.Config
	minBet *big.Int

	// Replica is a small per-instance second offset so concurrent scheduler
	// replicas do not tick in lockstep. Pairing itself is race-safe; the
	// offset just spreads load.
	Replica int
}

func New(reg *registry.Registry, mm *matchmaker.Matchmaker, jobs *queue.Emulation, lg ledger.Ledger, cfg *config.Config) *Scheduler {
	minBet, ok := new(big.Int).SetString(cfg.MinBetWei, 10)
	if !ok {
		log.Printf("[SCHEDULER] bad MIN_BET_WEI %q, using 0", cfg.MinBetWei)
		minBet = big.NewInt(0)
	}
	return &Scheduler{reg: reg, mm: mm, jobs: jobs, ledger: lg, cfg: cfg, minBet: minBet}
}

// Run ticks every SchedulerPollSeconds until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Replica > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(s.Replica) * time.Second):
		}
	}
	ticker := time.NewTicker(time.Duration(s.cfg.SchedulerPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[SCHEDULER] started, poll every %ds", s.cfg.SchedulerPollSeconds)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SCHEDULER] stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	games, err := s.mm.ActiveGames(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] list active games: %v", err)
		return
	}
	for _, game := range games {
		paired := 0
		for {
			pair, err := s.mm.TryPair(ctx, game)
			if err == matchmaker.ErrNoPair {
				break
			}
			if err != nil {
				log.Printf("[SCHEDULER] %s: try pair: %v", game, err)
				break
			}
			if err := s.schedule(ctx, game, pair); err != nil {
				log.Printf("[SCHEDULER] %s: schedule %s vs %s: %v", game, pair.FighterA, pair.FighterB, err)
				continue
			}
			paired++
		}
		if paired == 0 {
			if err := s.mm.WidenWindows(ctx, game); err != nil {
				log.Printf("[SCHEDULER] %s: widen windows: %v", game, err)
			}
		}
	}
}

// schedule creates the match row, opens the pool with the betting window,
// and parks the emulation job until the window closes.
func (s *Scheduler) schedule(ctx context.Context, gameID string, pair *matchmaker.Pair) error {
	a, b, err := s.reg.GetFighterPair(ctx, pair.FighterA, pair.FighterB)
	if err != nil {
		return err
	}
	// The queue entry can outlive a fighter's eligibility (withdrawn,
	// requeued into calibration). Drop the pair rather than schedule a
	// match one side can no longer play.
	if a.Status != models.FighterReady || b.Status != models.FighterReady {
		log.Printf("[SCHEDULER] dropping pair %s/%s: statuses %s/%s", a.ID, b.ID, a.Status, b.Status)
		return nil
	}
	if a.GameID != gameID || b.GameID != gameID {
		log.Printf("[SCHEDULER] dropping pair %s/%s: game mismatch", a.ID, b.ID)
		return nil
	}

	now := time.Now()
	delay := time.Duration(s.cfg.PreMatchDelaySecs) * time.Second
	m := &models.Match{
		ID:        uuid.New(),
		GameID:    gameID,
		Format:    s.cfg.DefaultMatchFormat,
		FighterA:  a.ID,
		FighterB:  b.ID,
		Status:    models.MatchOpen,
		MatchType: models.MatchTypeRanked,
		HasPool:   true,
		CreatedAt: now,
	}
	m.StartsAt.Time, m.StartsAt.Valid = now.Add(delay), true
	if err := s.reg.CreateMatch(ctx, m); err != nil {
		return err
	}

	if err := s.ledger.CreateMatch(ctx, m.ID, a.ID, b.ID, s.minBet, uint64(s.cfg.PreMatchDelaySecs)); err != nil {
		// No pool, no match. The row records why.
		if mErr := s.reg.MarkCancelled(ctx, m.ID, models.CancelCreateFailed, time.Now()); mErr != nil {
			log.Printf("[SCHEDULER] match %s: mark cancelled: %v", m.ID, mErr)
		}
		return err
	}

	job := &queue.Job{
		MatchID:   m.ID,
		GameID:    gameID,
		FighterA:  a.ID,
		FighterB:  b.ID,
		ModelRefA: a.ModelRef,
		ModelRefB: b.ModelRef,
		Format:    m.Format,
		HasPool:   true,
	}
	if err := s.jobs.EnqueueDeferred(ctx, job, delay); err != nil {
		return err
	}
	log.Printf("[SCHEDULER] match %s scheduled: %s (%d) vs %s (%d), betting closes in %v",
		m.ID, a.ID, a.Elo, b.ID, b.Elo, delay)
	return nil
}

// Promoter moves due deferred jobs onto the active tier FIFOs.
type Promoter struct {
	jobs    *queue.Emulation
	cfg     *config.Config
	Replica int
}

func NewPromoter(jobs *queue.Emulation, cfg *config.Config) *Promoter {
	return &Promoter{jobs: jobs, cfg: cfg}
}

func (p *Promoter) Run(ctx context.Context) {
	if p.Replica > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(p.Replica) * time.Second):
		}
	}
	ticker := time.NewTicker(time.Duration(p.cfg.PromoterPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[PROMOTER] started, poll every %ds", p.cfg.PromoterPollSeconds)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[PROMOTER] stopped")
			return
		case <-ticker.C:
			n, err := p.jobs.Promote(ctx)
			if err != nil {
				log.Printf("[PROMOTER] promote: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[PROMOTER] promoted %d job(s)", n)
			}
		}
	}
}
