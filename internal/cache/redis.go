// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetJSON when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// DefaultQueueName is the Redis list settlement events are pushed to.
const DefaultQueueName = "pencilparty_settlements"

const (
	GameTypesKey    = "game_types"
	PopularGamesKey = "popular_games"
)

func boardName(gameType string) string {
	if gameType == "" {
		return "all"
	}
	return gameType
}

// LeaderboardKey names one cached top-N page of a board generation. An empty gameType is
// the cross-game board.
func LeaderboardKey(gameType, rankType string, gen int64, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%s:g%d:%d", rankType, boardName(gameType), gen, limit)
}

func generationKey(gameType string) string {
	return "leaderboard_gen:" + boardName(gameType)
}

// Redis is the shared Redis handle: a JSON read-through cache plus the settlement queue.
type Redis struct {
	rdb   *redis.Client
	queue string
}

// Connect dials addr and pings it with a 5 second timeout.
func Connect(ctx context.Context, addr string, db int, queue string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return New(rdb, queue), nil
}

// New wraps an existing client. An empty queue selects DefaultQueueName.
func New(rdb *redis.Client, queue string) *Redis {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Redis{rdb: rdb, queue: queue}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// GetJSON decodes the value at key into dst.
func (r *Redis) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis GET %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key for ttl.
func (r *Redis) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// LeaderboardGeneration is the current generation of gameType's board, 0 before the first
// invalidation. Readers must fetch it before loading the page they will cache.
func (r *Redis) LeaderboardGeneration(ctx context.Context, gameType string) (int64, error) {
	gen, err := r.rdb.Get(ctx, generationKey(gameType)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET %s: %w", generationKey(gameType), err)
	}
	return gen, nil
}

// InvalidateLeaderboard moves gameType's board and the cross-game board to a new generation,
// so a page loaded before the settlement can no longer be served even if it is written late,
// then drops the pages already cached.
func (r *Redis) InvalidateLeaderboard(ctx context.Context, gameType string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Incr(ctx, generationKey(gameType))
	pipe.Incr(ctx, generationKey(""))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis INCR leaderboard generation: %w", err)
	}

	for _, pattern := range []string{
		fmt.Sprintf("leaderboard:*:%s:*", gameType),
		"leaderboard:*:all:*",
	} {
		if err := r.deleteMatching(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// PublishSettlement serializes ev to JSON and pushes it onto the settlement queue.
func (r *Redis) PublishSettlement(ctx context.Context, ev models.SettlementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal SettlementEvent: %w", err)
	}
	if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", r.queue, err)
	}
	return nil
}

// PopSettlement blocks up to timeout for the next queued event. It returns nil, nil when the
// timeout passes with nothing queued.
func (r *Redis) PopSettlement(ctx context.Context, timeout time.Duration) (*models.SettlementEvent, error) {
	res, err := r.rdb.BLPop(ctx, timeout, r.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", r.queue, err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var ev models.SettlementEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return nil, fmt.Errorf("invalid settlement event: %w", err)
	}
	return &ev, nil
}
