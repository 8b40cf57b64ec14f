package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/arena"
	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/database"
	"github.com/rawlclub/backend/internal/elo"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/queue"
	appredis "github.com/rawlclub/backend/internal/redis"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/streams"
)

// RunChild executes one match in this process: decode the job from stdin,
// wire dependencies, run the match, apply the post-match bookkeeping. The
// parent acks the queue after we exit, whatever the exit code.
func RunChild(ctx context.Context, cfg *config.Config, stdin io.Reader) error {
	payload, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("worker: read job payload: %w", err)
	}
	var job queue.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("worker: decode job payload: %w", err)
	}
	log.Printf("[POOL] child running match %s (game %s, calibration=%v)", job.MatchID, job.GameID, job.Calibration)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("worker: connect database: %w", err)
	}
	defer db.Close()
	rdb, err := appredis.Connect(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("worker: connect redis: %w", err)
	}
	defer rdb.Close()

	reg := registry.New(db)
	pub := streams.NewRedis(rdb)

	var lg ledger.Ledger
	lg, err = ledger.NewEVM(cfg.ChainRPCURL, cfg.ContractAddress, cfg.OperatorKeyHex, cfg.ChainID, cfg.LedgerMaxRetries)
	if err != nil {
		return fmt.Errorf("worker: connect ledger: %w", err)
	}

	fsStore, err := content.NewFS(cfg.ContentStoreRoot)
	if err != nil {
		return fmt.Errorf("worker: open content store: %w", err)
	}
	store := content.WithRetry(fsStore)

	bridge, err := arena.StartBridge(ctx, cfg.EmulatorBridgeCmd)
	if err != nil {
		return fmt.Errorf("worker: start emulator bridge: %w", err)
	}

	cache := arena.NewModelCache(store, func(ctx context.Context, ref string, data []byte) (arena.Policy, error) {
		if err := bridge.LoadModel(ref, data); err != nil {
			return nil, err
		}
		return arena.NewBridgePolicy(bridge, ref), nil
	})
	engines := func(ctx context.Context, gameID string) (arena.Engine, []int, error) {
		shape, err := bridge.ObservationShape()
		if err != nil {
			return nil, nil, err
		}
		return arena.NewBridgeEngine(bridge, gameID), shape, nil
	}

	runner := arena.NewRunner(arena.RunnerConfig{
		MaxMatchFrames:    cfg.MaxMatchFrames,
		FrameSkip:         cfg.FrameSkip,
		StreamingFPS:      cfg.StreamingFPS,
		DataHz:            cfg.DataHz,
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSecs) * time.Second,
	}, lg, pub, store, cache, engines, reg)

	result, runErr := runner.Run(ctx, &job)

	if job.Calibration {
		return settleCalibration(ctx, reg, queue.NewEmulation(rdb), cfg, &job, result, runErr)
	}
	if runErr != nil {
		return runErr
	}
	return applyRatings(ctx, reg, &job, result)
}

// applyRatings moves both fighters' Elo after a ranked result. Rating drift
// is cosmetic next to settlement, so failures are logged, not fatal: the
// match itself is already resolved on chain.
func applyRatings(ctx context.Context, reg *registry.Registry, job *queue.Job, result *arena.Result) error {
	winnerID, loserID := job.FighterA, job.FighterB
	if result.Winner == "P2" {
		winnerID, loserID = job.FighterB, job.FighterA
	}
	winner, loser, err := reg.GetFighterPair(ctx, winnerID, loserID)
	if err != nil {
		log.Printf("[POOL] match %s: load fighters for rating: %v", job.MatchID, err)
		return nil
	}
	newWinner, newLoser := elo.Update(winner.Elo, winner.RankedMatches(), loser.Elo, loser.RankedMatches())
	err = reg.ApplyMatchResult(ctx, winnerID, loserID, newWinner, newLoser, elo.Division(newWinner), elo.Division(newLoser))
	if err != nil {
		log.Printf("[POOL] match %s: apply ratings: %v", job.MatchID, err)
		return nil
	}
	log.Printf("[POOL] match %s ratings: %s %d->%d, %s %d->%d",
		job.MatchID, winnerID, winner.Elo, newWinner, loserID, loser.Elo, newLoser)
	return nil
}

// settleCalibration records one calibration round and, when the full set is
// in, seeds the fighter's rating and flips it to ready.
func settleCalibration(ctx context.Context, reg *registry.Registry, jobs *queue.Emulation, cfg *config.Config, job *queue.Job, result *arena.Result, runErr error) error {
	cm := &models.CalibrationMatch{
		FighterID:    job.FighterA,
		ReferenceElo: job.ReferenceElo,
		Attempt:      job.Attempt,
	}
	if runErr != nil {
		cm.Error = sql.NullString{String: runErr.Error(), Valid: true}
	} else {
		outcome := "loss"
		if result.Winner == "P1" {
			outcome = "win"
		}
		cm.Result = sql.NullString{String: outcome, Valid: true}
	}
	if err := reg.InsertCalibrationMatch(ctx, cm); err != nil {
		return fmt.Errorf("worker: record calibration round: %w", err)
	}

	rounds, err := reg.CalibrationMatches(ctx, job.FighterA)
	if err != nil {
		return fmt.Errorf("worker: load calibration rounds: %w", err)
	}
	decision := DecideCalibration(rounds, job.Attempt, cfg.CalibrationRounds, cfg.CalibrationMaxAttempts)
	switch decision.Outcome {
	case CalibrationIncomplete:
		return runErr
	case CalibrationRetry:
		log.Printf("[POOL] fighter %s: calibration attempt %d unusable, scheduling attempt %d", job.FighterA, job.Attempt, job.Attempt+1)
		for _, next := range CalibrationPlan(job.FighterA, job.GameID, job.ModelRefA, job.Format, job.Attempt+1) {
			if err := jobs.EnqueueImmediate(ctx, next, queue.TierCalibration); err != nil {
				return fmt.Errorf("worker: requeue calibration: %w", err)
			}
		}
		return runErr
	case CalibrationFailed:
		if err := reg.SetFighterStatus(ctx, job.FighterA, models.FighterCalibrationFailed); err != nil {
			return fmt.Errorf("worker: mark calibration failed: %w", err)
		}
		log.Printf("[POOL] fighter %s failed calibration after attempt %d", job.FighterA, job.Attempt)
		return runErr
	}

	rating := elo.Seed(decision.ReferenceElos, decision.Wins)
	if err := reg.SetFighterElo(ctx, job.FighterA, rating, elo.Division(rating)); err != nil {
		return fmt.Errorf("worker: seed rating: %w", err)
	}
	if err := reg.SetFighterStatus(ctx, job.FighterA, models.FighterReady); err != nil {
		return fmt.Errorf("worker: mark ready: %w", err)
	}
	log.Printf("[POOL] fighter %s calibrated: elo=%d (%d/%d wins)", job.FighterA, rating, decision.Wins, len(decision.ReferenceElos))
	return nil
}

// Calibration outcomes.
const (
	CalibrationIncomplete = "incomplete"
	CalibrationSeeded     = "seeded"
	CalibrationRetry      = "retry"
	CalibrationFailed     = "failed"
)

// referenceLadder is the fixed rating ladder of house reference opponents a
// new fighter calibrates against.
var referenceLadder = []int{1000, 1100, 1200, 1300, 1400}

// ReferenceModelRef is the content-store key of the house opponent at a
// ladder rating. These live under the trusted reference/ prefix.
func ReferenceModelRef(gameID string, refElo int) string {
	return fmt.Sprintf("reference/%s/%d.bin", gameID, refElo)
}

// CalibrationPlan builds the job set for one intake attempt: one match per
// ladder rung, new fighter on side A.
func CalibrationPlan(fighterID uuid.UUID, gameID, modelRef string, format, attempt int) []*queue.Job {
	plan := make([]*queue.Job, 0, len(referenceLadder))
	for _, refElo := range referenceLadder {
		plan = append(plan, &queue.Job{
			MatchID:      uuid.New(),
			GameID:       gameID,
			FighterA:     fighterID,
			ModelRefA:    modelRef,
			ModelRefB:    ReferenceModelRef(gameID, refElo),
			Format:       format,
			Calibration:  true,
			ReferenceElo: refElo,
			Attempt:      attempt,
		})
	}
	return plan
}

// CalibrationDecision summarizes one attempt's completed rounds.
type CalibrationDecision struct {
	Outcome       string
	Wins          int
	ReferenceElos []int
}

// DecideCalibration is the pure rule for when an intake attempt is done.
// Errored rounds count toward the attempt but not toward the seed. An
// attempt with no usable round retries as a fresh attempt until maxAttempts
// is spent, which fails the fighter.
func DecideCalibration(rounds []models.CalibrationMatch, attempt, needed, maxAttempts int) CalibrationDecision {
	var d CalibrationDecision
	completed := 0
	for _, r := range rounds {
		if r.Attempt != attempt {
			continue
		}
		completed++
		if !r.Result.Valid {
			continue
		}
		d.ReferenceElos = append(d.ReferenceElos, r.ReferenceElo)
		if r.Result.String == "win" {
			d.Wins++
		}
	}
	if completed < needed {
		d.Outcome = CalibrationIncomplete
		return d
	}
	if len(d.ReferenceElos) == 0 {
		if attempt >= maxAttempts {
			d.Outcome = CalibrationFailed
		} else {
			d.Outcome = CalibrationRetry
		}
		return d
	}
	d.Outcome = CalibrationSeeded
	return d
}
