package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a derived read accelerator. It is never consulted for correctness:
// callers treat a miss, a stale value and an error the same way.
type Cache interface {
	// Get decodes the value at key into out, reporting whether it was found
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a glob pattern
	DeletePattern(ctx context.Context, pattern string) error
}

// FundingKey is where the funding read model of a campaign is cached
func FundingKey(campaignID string) string {
	return "campaign:" + campaignID + ":funding"
}

// EligibilityKey ...
func EligibilityKey(campaignID, donorID string) string {
	return "campaign:" + campaignID + ":eligibility:" + donorID
}

// EligibilityPattern matches every cached donor eligibility of a campaign
func EligibilityPattern(campaignID string) string {
	return "campaign:" + campaignID + ":eligibility:*"
}

// Connect initializes a Redis client from URL or host:port input
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Redis is a Cache backed by JSON strings in Redis
type Redis struct {
	client *redis.Client
}

// NewRedis ...
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get ...
func (c *Redis) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set ...
func (c *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, b, ttl).Err()
}

// Delete ...
func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern walks the keyspace with SCAN so it never blocks the server
func (c *Redis) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Delete(ctx, batch...)
}
