package eventsource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWatermarkKey is the Redis key holding the last synced event time.
const DefaultWatermarkKey = "detect:loganalytics:last_fetch"

// WatermarkStore remembers the newest event time already synced. The
// watermark only moves forward.
type WatermarkStore interface {
	// Get returns the watermark, or the zero time if none was recorded.
	Get(ctx context.Context) (time.Time, error)
	// Advance moves the watermark to t if t is newer and reports whether it moved.
	Advance(ctx context.Context, t time.Time) (bool, error)
}

// advanceScript sets KEYS[1] to ARGV[1] only when it is larger than the
// stored value, so concurrent syncers can never move the watermark back.
var advanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisWatermarkStore keeps the watermark in Redis as Unix microseconds,
// which Lua numbers represent exactly.
type RedisWatermarkStore struct {
	client *redis.Client
	key    string
}

// NewRedisWatermarkStore creates a store under key.
func NewRedisWatermarkStore(client *redis.Client, key string) *RedisWatermarkStore {
	if key == "" {
		key = DefaultWatermarkKey
	}
	return &RedisWatermarkStore{client: client, key: key}
}

func (s *RedisWatermarkStore) Get(ctx context.Context) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}
	us, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q: %w", val, err)
	}
	return time.UnixMicro(us).UTC(), nil
}

func (s *RedisWatermarkStore) Advance(ctx context.Context, t time.Time) (bool, error) {
	if t.IsZero() {
		return false, nil
	}
	moved, err := advanceScript.Run(ctx, s.client, []string{s.key}, t.UnixMicro()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to advance watermark: %w", err)
	}
	return moved == 1, nil
}

// MemoryWatermarkStore keeps the watermark in process. It is used when
// Redis is disabled and resets on restart.
type MemoryWatermarkStore struct {
	mu sync.Mutex
	t  time.Time
}

func (s *MemoryWatermarkStore) Get(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, nil
}

func (s *MemoryWatermarkStore) Advance(_ context.Context, t time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.After(s.t) {
		return false, nil
	}
	s.t = t.UTC()
	return true, nil
}
