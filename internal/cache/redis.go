// Package cache persists presence last-seen times in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:last_seen:"

// DefaultTTL bounds how long a last-seen record survives without updates.
const DefaultTTL = 30 * 24 * time.Hour

// RedisLastSeen stores last-seen timestamps as unix milliseconds.
type RedisLastSeen struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLastSeen connects to url and verifies the connection.
func NewRedisLastSeen(ctx context.Context, url string, ttl time.Duration) (*RedisLastSeen, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisLastSeenWithClient(c, ttl), nil
}

// NewRedisLastSeenWithClient wraps an existing client.
func NewRedisLastSeenWithClient(client redis.UniversalClient, ttl time.Duration) *RedisLastSeen {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLastSeen{client: client, ttl: ttl}
}

func (r *RedisLastSeen) SetLastSeen(ctx context.Context, userID int, at time.Time) error {
	return r.client.Set(ctx, lastSeenKey(userID), strconv.FormatInt(at.UnixMilli(), 10), r.ttl).Err()
}

func (r *RedisLastSeen) GetLastSeen(ctx context.Context, userID int) (time.Time, bool, error) {
	res, err := r.client.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := parseMillis(res)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (r *RedisLastSeen) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLastSeen) Close() error {
	return r.client.Close()
}

func lastSeenKey(userID int) string {
	return keyPrefix + strconv.Itoa(userID)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: bad last seen value %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
