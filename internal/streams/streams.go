// Package streams owns the ephemeral KV surface around a running match:
// live video/data streams, heartbeats, distributed locks and rate-limit
// counters.
package streams

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Live streams are small rolling buffers: a late subscriber gets the
	// most recent frames, not the whole match.
	videoMaxLen = 120
	dataMaxLen  = 64

	// Streams linger briefly after the end sentinel so attached clients
	// see it, then expire.
	endedStreamTTL = 60 * time.Second

	heartbeatTTL = 60 * time.Second
	lockTTL      = 5 * time.Minute
)

func VideoKey(matchID uuid.UUID) string { return "match:" + matchID.String() + ":video" }
func DataKey(matchID uuid.UUID) string  { return "match:" + matchID.String() + ":data" }
func HeartbeatKey(matchID uuid.UUID) string {
	return "heartbeat:match:" + matchID.String()
}

// Publisher is what the match runner writes through; faked in runner tests.
type Publisher interface {
	PublishFrame(ctx context.Context, matchID uuid.UUID, jpeg []byte) error
	PublishState(ctx context.Context, matchID uuid.UUID, state []byte) error
	// PublishEnd appends the end-of-stream sentinel and arms expiry.
	PublishEnd(ctx context.Context, matchID uuid.UUID) error
	Heartbeat(ctx context.Context, matchID uuid.UUID) error
}

// Redis is the production Publisher plus the subscriber/lock/ratelimit
// helpers built on the same client.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) PublishFrame(ctx context.Context, matchID uuid.UUID, jpeg []byte) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: VideoKey(matchID),
		MaxLen: videoMaxLen,
		Approx: true,
		Values: map[string]interface{}{"jpeg": jpeg},
	}).Err()
}

func (s *Redis) PublishState(ctx context.Context, matchID uuid.UUID, state []byte) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DataKey(matchID),
		MaxLen: dataMaxLen,
		Approx: true,
		Values: map[string]interface{}{"state": state},
	}).Err()
}

func (s *Redis) PublishEnd(ctx context.Context, matchID uuid.UUID) error {
	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: VideoKey(matchID),
		MaxLen: videoMaxLen,
		Approx: true,
		Values: map[string]interface{}{"end": "1"},
	})
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: DataKey(matchID),
		MaxLen: dataMaxLen,
		Approx: true,
		Values: map[string]interface{}{"end": "1"},
	})
	pipe.Expire(ctx, VideoKey(matchID), endedStreamTTL)
	pipe.Expire(ctx, DataKey(matchID), endedStreamTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("streams: publish end: %w", err)
	}
	return nil
}

func (s *Redis) Heartbeat(ctx context.Context, matchID uuid.UUID) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	return s.rdb.Set(ctx, HeartbeatKey(matchID), now, heartbeatTTL).Err()
}

// ReadHeartbeat returns the last heartbeat time, or (zero, false) when the
// key is absent or unparseable.
func (s *Redis) ReadHeartbeat(ctx context.Context, matchID uuid.UUID) (time.Time, bool) {
	val, err := s.rdb.Get(ctx, HeartbeatKey(matchID)).Result()
	if err != nil {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// StreamEntry is one buffered item handed to ws subscribers.
type StreamEntry struct {
	ID    string
	Jpeg  []byte
	State []byte
	End   bool
}

// ReadFrom blocks up to the timeout waiting for entries after the given id
// ("$" for only-new, "0" for from-start). Returns (nil, nil) on timeout.
func (s *Redis) ReadFrom(ctx context.Context, stream, afterID string, block time.Duration) ([]StreamEntry, error) {
	res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, afterID},
		Count:   16,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("streams: read %s: %w", stream, err)
	}
	var out []StreamEntry
	for _, st := range res {
		for _, msg := range st.Messages {
			e := StreamEntry{ID: msg.ID}
			if v, ok := msg.Values["jpeg"].(string); ok {
				e.Jpeg = []byte(v)
			}
			if v, ok := msg.Values["state"].(string); ok {
				e.State = []byte(v)
			}
			if _, ok := msg.Values["end"]; ok {
				e.End = true
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// LatestID returns the id of the newest entry so a subscriber that fell
// behind can resume at the live edge (drop-oldest semantics).
func (s *Redis) LatestID(ctx context.Context, stream string) (string, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("streams: latest id: %w", err)
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// AcquireLock takes the NX lock for a model-normalization run. Returns
// false when another worker already holds it.
func (s *Redis) AcquireLock(ctx context.Context, name string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "normalize:"+name, "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("streams: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock drops the lock early.
func (s *Redis) ReleaseLock(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, "normalize:"+name).Err()
}

// Allow implements a sliding-window rate limit: at most max hits per window
// for the key. Fails open on redis errors.
func (s *Redis) Allow(ctx context.Context, key string, window time.Duration, max int64) bool {
	full := "ratelimit:" + key
	n, err := s.rdb.Incr(ctx, full).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		s.rdb.Expire(ctx, full, window)
	}
	return n <= max
}
