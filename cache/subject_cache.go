// Package cache holds the Redis backed caches of the gateway.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const subjectPrefix = "tma:subject:"

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SubjectCache remembers provisioned subjects so repeated logins skip the
// identity provider lookup. Entries expire after ttl.
type SubjectCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSubjectCache creates a cache over client.
func NewSubjectCache(client *redis.Client, ttl time.Duration) *SubjectCache {
	return &SubjectCache{client: client, ttl: ttl}
}

func (c *SubjectCache) key(subject string) string {
	return subjectPrefix + subject
}

// Known reports whether subject was remembered and has not expired.
func (c *SubjectCache) Known(ctx context.Context, subject string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(subject)).Result()
	if err != nil {
		return false, fmt.Errorf("subject cache: %w", err)
	}
	return n == 1, nil
}

// Remember marks subject as provisioned.
func (c *SubjectCache) Remember(ctx context.Context, subject string) error {
	if err := c.client.Set(ctx, c.key(subject), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("subject cache: %w", err)
	}
	return nil
}

// Forget drops subject from the cache.
func (c *SubjectCache) Forget(ctx context.Context, subject string) error {
	return c.client.Del(ctx, c.key(subject)).Err()
}

// Ping checks the connection.
func (c *SubjectCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
