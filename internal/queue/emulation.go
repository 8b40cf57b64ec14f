// Package queue implements the two-tier emulation job queue over redis:
// ranked matches enter deferred (betting window) and are promoted into a
// FIFO list when due; calibration and custom jobs enter an immediate tier
// that workers only drain when ranked is empty.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyReady         = "rawl:emulation:ready"
	keyJobs          = "rawl:emulation:jobs"
	keyQueueRanked   = "rawl:emulation:queue"
	keyQueueCal      = "rawl:emulation:queue:cal"
	keyProcRanked    = "rawl:emulation:processing"
	keyProcCal       = "rawl:emulation:processing:cal"
	promoteBatchSize = 100
)

// Tier selects which FIFO a job lives in.
type Tier string

const (
	TierRanked      Tier = "ranked"
	TierCalibration Tier = "cal"
)

// ErrEmpty is returned by Claim when the tier has no jobs.
var ErrEmpty = errors.New("queue: empty")

// Job is the payload a worker needs to execute one match.
type Job struct {
	MatchID     uuid.UUID `json:"match_id"`
	GameID      string    `json:"game_id"`
	FighterA    uuid.UUID `json:"fighter_a"`
	FighterB    uuid.UUID `json:"fighter_b"`
	ModelRefA   string    `json:"model_ref_a"`
	ModelRefB   string    `json:"model_ref_b"`
	Format      int       `json:"format"`
	Calibration bool      `json:"calibration"`
	// HasPool mirrors the match row: exhibition matches run the full
	// registry lifecycle with nothing on chain to lock or resolve.
	HasPool bool `json:"has_pool,omitempty"`
	// Calibration-only: the reference opponent's fixed rating and which
	// intake attempt this round belongs to.
	ReferenceElo int `json:"reference_elo,omitempty"`
	Attempt      int `json:"attempt,omitempty"`
}

// TargetTier routes a job by its calibration flag.
func (j *Job) TargetTier() Tier {
	if j.Calibration {
		return TierCalibration
	}
	return TierRanked
}

// promoteScript atomically routes due deferred jobs into the active FIFOs.
// Running it from several promoters concurrently is safe: a job is removed
// from ready/jobs in the same script invocation that pushes it, so it is
// routed exactly once.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(due) do
  local payload = redis.call('HGET', KEYS[2], id)
  if payload then
    local ok, job = pcall(cjson.decode, payload)
    if ok and job.calibration then
      redis.call('RPUSH', KEYS[4], payload)
    else
      redis.call('RPUSH', KEYS[3], payload)
    end
    redis.call('HDEL', KEYS[2], id)
    moved = moved + 1
  end
  redis.call('ZREM', KEYS[1], id)
end
return moved
`)

// Emulation is the queue handle shared by scheduler, promoter and workers.
type Emulation struct {
	rdb *redis.Client
}

func NewEmulation(rdb *redis.Client) *Emulation {
	return &Emulation{rdb: rdb}
}

func queueKey(t Tier) string {
	if t == TierCalibration {
		return keyQueueCal
	}
	return keyQueueRanked
}

func processingKey(t Tier) string {
	if t == TierCalibration {
		return keyProcCal
	}
	return keyProcRanked
}

// EnqueueDeferred stores the job payload and schedules it to become
// claimable after the delay (the pre-match betting window).
func (e *Emulation) EnqueueDeferred(ctx context.Context, job *Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	runAt := time.Now().Add(delay).Unix()
	pipe := e.rdb.TxPipeline()
	pipe.HSet(ctx, keyJobs, job.MatchID.String(), payload)
	pipe.ZAdd(ctx, keyReady, redis.Z{Score: float64(runAt), Member: job.MatchID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue deferred: %w", err)
	}
	return nil
}

// EnqueueImmediate pushes a job straight onto an active tier, bypassing the
// betting window. Used for calibration and operator-created matches.
func (e *Emulation) EnqueueImmediate(ctx context.Context, job *Job, tier Tier) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := e.rdb.RPush(ctx, queueKey(tier), payload).Err(); err != nil {
		return fmt.Errorf("queue: enqueue immediate: %w", err)
	}
	return nil
}

// Promote routes every due deferred job to its active tier. Returns the
// number of jobs moved.
func (e *Emulation) Promote(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	n, err := promoteScript.Run(ctx, e.rdb,
		[]string{keyReady, keyJobs, keyQueueRanked, keyQueueCal},
		now, promoteBatchSize).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: promote: %w", err)
	}
	return n, nil
}

// Claim atomically moves the head of the tier's queue onto its processing
// list and returns the decoded job plus the raw payload needed for Ack.
func (e *Emulation) Claim(ctx context.Context, tier Tier) (*Job, string, error) {
	payload, err := e.rdb.LMove(ctx, queueKey(tier), processingKey(tier), "LEFT", "RIGHT").Result()
	if err == redis.Nil {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", fmt.Errorf("queue: claim: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Poison payload: drop it from processing so it cannot wedge the tier.
		e.rdb.LRem(ctx, processingKey(tier), 1, payload)
		return nil, "", fmt.Errorf("queue: claim: bad payload: %w", err)
	}
	return &job, payload, nil
}

// Ack removes a claimed payload from the processing list once the child
// process has exited.
func (e *Emulation) Ack(ctx context.Context, tier Tier, payload string) error {
	if err := e.rdb.LRem(ctx, processingKey(tier), 1, payload).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// RecoverProcessing moves every in-flight payload back onto its queue.
// Called once on worker startup so jobs orphaned by a crash are re-run.
func (e *Emulation) RecoverProcessing(ctx context.Context) (int, error) {
	recovered := 0
	for _, tier := range []Tier{TierRanked, TierCalibration} {
		for {
			_, err := e.rdb.LMove(ctx, processingKey(tier), queueKey(tier), "RIGHT", "LEFT").Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return recovered, fmt.Errorf("queue: recover processing: %w", err)
			}
			recovered++
		}
	}
	return recovered, nil
}

// Depths reports queue lengths for health reporting.
func (e *Emulation) Depths(ctx context.Context) (ranked, cal, deferred int64, err error) {
	pipe := e.rdb.Pipeline()
	r := pipe.LLen(ctx, keyQueueRanked)
	c := pipe.LLen(ctx, keyQueueCal)
	d := pipe.ZCard(ctx, keyReady)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("queue: depths: %w", err)
	}
	return r.Val(), c.Val(), d.Val(), nil
}
