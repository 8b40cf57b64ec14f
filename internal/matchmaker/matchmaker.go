// Package matchmaker pairs ready fighters by Elo proximity. Each game keeps
// a sorted set scored by rating; a fighter's search window starts at 200
// points and widens by 50 on every scheduler tick that fails to pair them.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queuePrefix = "matchqueue:"
	metaPrefix  = "matchqueue:meta:"
	metaTTL     = time.Hour

	baseWindow = 200
	windowStep = 50
)

// ErrNoPair is returned when no eligible pairing exists this tick.
var ErrNoPair = errors.New("matchmaker: no pair available")

// Pair is one scheduler output, consumed immediately by job enqueue.
type Pair struct {
	FighterA uuid.UUID
	FighterB uuid.UUID
}

// removePairScript removes both fighters only if both are still queued.
// A racing scheduler that already took either member makes this a no-op,
// so the caller retries with a different candidate.
var removePairScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) and redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

type Matchmaker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Matchmaker {
	return &Matchmaker{rdb: rdb}
}

func queueKey(gameID string) string { return queuePrefix + gameID }
func metaKey(fighterID string) string { return metaPrefix + fighterID }

// Window is the Elo search radius after the given number of empty ticks.
// It never decreases: ticks only ever increment while a fighter is queued.
func Window(ticks int) int {
	return baseWindow + ticks*windowStep
}

// Enqueue adds a ready fighter to its game's queue.
func (m *Matchmaker) Enqueue(ctx context.Context, fighterID uuid.UUID, gameID, ownerID string, eloRating int) error {
	id := fighterID.String()
	pipe := m.rdb.TxPipeline()
	pipe.ZAdd(ctx, queueKey(gameID), redis.Z{Score: float64(eloRating), Member: id})
	pipe.HSet(ctx, metaKey(id), map[string]interface{}{
		"game_id":     gameID,
		"owner_id":    ownerID,
		"ticks":       0,
		"enqueued_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, metaKey(id), metaTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matchmaker: enqueue: %w", err)
	}
	return nil
}

// Remove drops a fighter from the queue (invalidated, withdrawn).
func (m *Matchmaker) Remove(ctx context.Context, fighterID uuid.UUID, gameID string) error {
	id := fighterID.String()
	pipe := m.rdb.TxPipeline()
	pipe.ZRem(ctx, queueKey(gameID), id)
	pipe.Del(ctx, metaKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matchmaker: remove: %w", err)
	}
	return nil
}

type queued struct {
	id    string
	elo   int
	owner string
	ticks int
}

// TryPair attempts to extract one Elo-proximate pair with distinct owners.
func (m *Matchmaker) TryPair(ctx context.Context, gameID string) (*Pair, error) {
	members, err := m.rdb.ZRangeWithScores(ctx, queueKey(gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaker: try pair: %w", err)
	}
	if len(members) < 2 {
		return nil, ErrNoPair
	}

	queue := make([]queued, 0, len(members))
	for _, z := range members {
		id, _ := z.Member.(string)
		meta, err := m.rdb.HGetAll(ctx, metaKey(id)).Result()
		if err != nil || len(meta) == 0 {
			// Metadata expired: the fighter sat queued for over an hour.
			// Drop the orphan entry rather than pairing blind.
			m.rdb.ZRem(ctx, queueKey(gameID), id)
			continue
		}
		ticks, _ := strconv.Atoi(meta["ticks"])
		queue = append(queue, queued{id: id, elo: int(z.Score), owner: meta["owner_id"], ticks: ticks})
	}

	for i := range queue {
		j, ok := findPartner(queue, i)
		if !ok {
			continue
		}
		a, b := queue[i], queue[j]
		taken, err := removePairScript.Run(ctx, m.rdb, []string{queueKey(gameID)}, a.id, b.id).Int()
		if err != nil {
			return nil, fmt.Errorf("matchmaker: remove pair: %w", err)
		}
		if taken == 0 {
			// Raced with another scheduler; try the next candidate.
			continue
		}
		m.rdb.Del(ctx, metaKey(a.id), metaKey(b.id))
		ua, errA := uuid.Parse(a.id)
		ub, errB := uuid.Parse(b.id)
		if errA != nil || errB != nil {
			return nil, fmt.Errorf("matchmaker: corrupt queue member %q/%q", a.id, b.id)
		}
		return &Pair{FighterA: ua, FighterB: ub}, nil
	}
	return nil, ErrNoPair
}

// findPartner picks the closest-rated eligible partner for queue[i] within
// its current window.
func findPartner(queue []queued, i int) (int, bool) {
	a := queue[i]
	window := Window(a.ticks)
	best := -1
	bestGap := window + 1
	for j := range queue {
		if j == i {
			continue
		}
		b := queue[j]
		if b.owner == a.owner {
			continue
		}
		gap := b.elo - a.elo
		if gap < 0 {
			gap = -gap
		}
		if gap <= window && gap < bestGap {
			best = j
			bestGap = gap
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// WidenWindows bumps every queued fighter's tick counter after a tick that
// produced no pairing for this game.
func (m *Matchmaker) WidenWindows(ctx context.Context, gameID string) error {
	members, err := m.rdb.ZRange(ctx, queueKey(gameID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("matchmaker: widen windows: %w", err)
	}
	for _, id := range members {
		if err := m.rdb.HIncrBy(ctx, metaKey(id), "ticks", 1).Err(); err != nil {
			return fmt.Errorf("matchmaker: widen windows: %w", err)
		}
	}
	return nil
}

// ActiveGames scans for games with at least one queued fighter.
func (m *Matchmaker) ActiveGames(ctx context.Context) ([]string, error) {
	var games []string
	iter := m.rdb.Scan(ctx, 0, queuePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, metaPrefix) {
			continue
		}
		n, err := m.rdb.ZCard(ctx, key).Result()
		if err != nil || n == 0 {
			continue
		}
		games = append(games, strings.TrimPrefix(key, queuePrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("matchmaker: active games: %w", err)
	}
	return games, nil
}

// QueueDepth reports how many fighters wait on a game.
func (m *Matchmaker) QueueDepth(ctx context.Context, gameID string) (int64, error) {
	return m.rdb.ZCard(ctx, queueKey(gameID)).Result()
}
