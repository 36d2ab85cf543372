package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps daily totals in Redis so several server replicas share one budget.
// Keys: {prefix}:total:{day} holds the running total, {prefix}:events:{day}
// is the event list. Neither expires; a new day simply uses new keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "finrag:cost"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) totalKey(day string) string {
	return rs.prefix + ":total:" + day
}

func (rs *RedisStore) eventsKey(day string) string {
	return rs.prefix + ":events:" + day
}

// Add implements Store. INCRBYFLOAT is atomic on the server and the event
// append runs in the same MULTI block.
func (rs *RedisStore) Add(ctx context.Context, ev Event) (float64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encoding cost event: %w", err)
	}

	var incr *redis.FloatCmd
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrByFloat(ctx, rs.totalKey(ev.Day), ev.CostUSD)
		pipe.RPush(ctx, rs.eventsKey(ev.Day), data)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording cost: %w", err)
	}

	return incr.Val(), nil
}

// Total implements Store.
func (rs *RedisStore) Total(ctx context.Context, day string) (float64, error) {
	val, err := rs.client.Get(ctx, rs.totalKey(day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading daily total: %w", err)
	}

	total, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing daily total %q: %w", val, err)
	}
	return total, nil
}

// Events loads the event list for a day.
func (rs *RedisStore) Events(ctx context.Context, day string) ([]Event, error) {
	raw, err := rs.client.LRange(ctx, rs.eventsKey(day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading cost events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			// Skip invalid entries
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// DeleteDay removes a day's keys. Used by tests and manual resets.
func (rs *RedisStore) DeleteDay(ctx context.Context, day string) error {
	return rs.client.Del(ctx, rs.totalKey(day), rs.eventsKey(day)).Err()
}

// Close implements Store.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
