// Package watchdog declares silent match runners dead. A runner that locked
// a pool and then crashed would otherwise strand bettors' funds until the
// permissionless on-chain timeout; the watchdog cancels much sooner.
package watchdog

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/streams"
)

// Cancel reasons owned by the watchdog.
const (
	ReasonNeverStarted     = "engine_never_started"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
)

// Verdict is the per-match liveness decision.
type Verdict struct {
	Dead   bool
	Reason string
}

// Classify is the pure liveness rule for one locked match. A missing
// heartbeat is only damning once the runner has had twice the heartbeat
// timeout to write its first one; before that the child may still be
// loading models.
func Classify(now, lockedAt time.Time, beat time.Time, beatPresent bool, timeout time.Duration) Verdict {
	if !beatPresent {
		if now.Sub(lockedAt) > 2*timeout {
			return Verdict{Dead: true, Reason: ReasonNeverStarted}
		}
		return Verdict{}
	}
	if now.Sub(beat) > timeout {
		return Verdict{Dead: true, Reason: ReasonHeartbeatTimeout}
	}
	return Verdict{}
}

// heartbeatReader is the KV slice the watchdog needs; *streams.Redis
// satisfies it.
type heartbeatReader interface {
	ReadHeartbeat(ctx context.Context, matchID uuid.UUID) (time.Time, bool)
}

type Watchdog struct {
	reg    *registry.Registry
	beats  heartbeatReader
	ledger ledger.Ledger
	cfg    *config.Config

	now func() time.Time
}

func New(reg *registry.Registry, beats *streams.Redis, lg ledger.Ledger, cfg *config.Config) *Watchdog {
	return &Watchdog{reg: reg, beats: beats, ledger: lg, cfg: cfg, now: time.Now}
}

// Run sweeps every WatchdogPollSeconds until the context ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.WatchdogPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[WATCHDOG] started, poll every %ds", w.cfg.WatchdogPollSeconds)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[WATCHDOG] stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	matches, err := w.reg.LockedMatches(ctx)
	if err != nil {
		log.Printf("[WATCHDOG] list locked matches: %v", err)
		return
	}
	timeout := time.Duration(w.cfg.HeartbeatTimeoutSecs) * time.Second
	now := w.now()
	for i := range matches {
		m := &matches[i]
		lockedAt := m.CreatedAt
		if m.LockedAt.Valid {
			lockedAt = m.LockedAt.Time
		}
		beat, present := w.beats.ReadHeartbeat(ctx, m.ID)
		v := Classify(now, lockedAt, beat, present, timeout)
		if !v.Dead {
			continue
		}
		w.cancel(ctx, m, v.Reason)
	}
}

// cancel settles a dead match: ledger first so bettors can refund, then the
// registry mirror. A ledger failure leaves the row locked; the next sweep
// retries.
func (w *Watchdog) cancel(ctx context.Context, m *models.Match, reason string) {
	log.Printf("[WATCHDOG] match %s dead (%s)", m.ID, reason)
	if m.HasPool {
		if err := w.ledger.CancelMatch(ctx, m.ID); err != nil {
			log.Printf("[WATCHDOG] match %s: ledger cancel: %v", m.ID, err)
			return
		}
	}
	if err := w.reg.MarkCancelled(ctx, m.ID, reason, w.now()); err != nil {
		log.Printf("[WATCHDOG] match %s: mark cancelled: %v", m.ID, err)
	}
}
