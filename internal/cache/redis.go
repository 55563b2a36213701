package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return client, nil
}

// RedisStore shares one cache between replicas. Entries are plain keys with a Redis
// TTL; a sorted set scored by last access time orders them for LRU eviction.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
	clock    clockwork.Clock
}

// NewRedisStore creates a store under namespace, e.g. "calendar:day"
func NewRedisStore(client *redis.Client, namespace string, capacity int, ttl time.Duration, clock clockwork.Clock) (*RedisStore, error) {
	if capacity < 1 {
		return nil, errors.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{client: client, prefix: namespace, capacity: capacity, ttl: ttl, clock: clock}, nil
}

// clearScript drops every entry under the namespace plus the LRU index in one step,
// including entries whose index member is already gone.
var clearScript = redis.NewScript(`
local cursor = "0"
repeat
	local res = redis.call("SCAN", cursor, "MATCH", ARGV[1], "COUNT", 500)
	cursor = res[1]
	if #res[2] > 0 then
		redis.call("DEL", unpack(res[2]))
	end
until cursor == "0"
redis.call("DEL", KEYS[1])
return 0
`)

func (s *RedisStore) entryKey(key string) string { return s.prefix + ":entry:" + key }
func (s *RedisStore) indexKey() string           { return s.prefix + ":lru" }

func (s *RedisStore) score() float64 {
	return float64(s.clock.Now().UnixMilli())
}

// Get returns the cached value for key and refreshes its recency
func (s *RedisStore) Get(ctx context.Context, key string) ([]models.OccurrenceDTO, bool, error) {
	data, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if err == redis.Nil {
		s.client.ZRem(ctx, s.indexKey(), key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), &redis.Z{Score: s.score(), Member: key}).Err(); err != nil {
		return nil, false, errors.Wrapf(err, "redis touch %s", key)
	}

	var value []models.OccurrenceDTO
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, errors.Wrapf(err, "decode cached %s", key)
	}
	return value, true, nil
}

// Set stores value under key and evicts the least recently used entries over capacity
func (s *RedisStore) Set(ctx context.Context, key string, value []models.OccurrenceDTO) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(key), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: s.score(), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}

	return s.evictOverflow(ctx)
}

func (s *RedisStore) evictOverflow(ctx context.Context) error {
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return errors.Wrap(err, "redis zcard")
	}
	over := n - int64(s.capacity)
	if over <= 0 {
		return nil
	}

	victims, err := s.client.ZRange(ctx, s.indexKey(), 0, over-1).Result()
	if err != nil {
		return errors.Wrap(err, "redis zrange")
	}
	return s.remove(ctx, victims)
}

func (s *RedisStore) remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	entries := make([]string, 0, len(keys))
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, s.entryKey(k))
		members = append(members, k)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entries...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis evict")
	}
	return nil
}

// Clear removes every entry in the namespace
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := clearScript.Run(ctx, s.client, []string{s.indexKey()}, s.entryKey("*")).Err(); err != nil {
		return errors.Wrap(err, "redis clear")
	}
	return nil
}

// Len returns the number of live entries
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	if s.ttl > 0 {
		// members idle for longer than the TTL point at expired entries
		cutoff := strconv.FormatInt(s.clock.Now().Add(-s.ttl).UnixMilli(), 10)
		if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+cutoff).Err(); err != nil {
			return 0, errors.Wrap(err, "redis prune")
		}
	}
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis zcard")
	}
	return int(n), nil
}

// Keys returns up to limit keys, most recently used first. A limit of 0 returns all.
func (s *RedisStore) Keys(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	keys, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis list keys")
	}
	return keys, nil
}

// Capacity returns the maximum number of entries
func (s *RedisStore) Capacity() int { return s.capacity }

// TTL returns the lifetime of an entry
func (s *RedisStore) TTL() time.Duration { return s.ttl }
