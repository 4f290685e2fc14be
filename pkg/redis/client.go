// Package redis provides a thin wrapper around go-redis/v9 with connection
// pooling, string get/set, sorted-set scoring primitives, and pattern-based
// key scanning.
package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// ScoredMember is one member of a sorted set with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the string value for the given key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a value with the given TTL. A zero TTL keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Scan yields every key matching the glob pattern. Each range over the
// returned sequence starts a fresh SCAN cursor.
func (c *Client) Scan(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for it.Next(ctx) {
			if !yield(it.Val(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", fmt.Errorf("scanning pattern %s: %w", pattern, err))
		}
	}
}

// FlushByPattern scans for keys matching the glob pattern and deletes them,
// returning the number of keys removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	for key, err := range c.Scan(ctx, pattern) {
		if err != nil {
			return deleted, err
		}
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return deleted, fmt.Errorf("deleting key %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// IncrementWithRecency atomically adds amount to member in scoreKey and
// records seq as the member's last-touch marker in recencyKey. Both writes
// run in one MULTI/EXEC.
func (c *Client) IncrementWithRecency(ctx context.Context, scoreKey, recencyKey, member string, amount float64, seq float64) (float64, error) {
	var incr *redis.FloatCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.ZIncrBy(ctx, scoreKey, amount, member)
		pipe.ZAdd(ctx, recencyKey, redis.Z{Score: seq, Member: member})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing %s/%s: %w", scoreKey, member, err)
	}
	return incr.Val(), nil
}

// SetWithRecency overwrites member's score and recency marker.
func (c *Client) SetWithRecency(ctx context.Context, scoreKey, recencyKey, member string, score float64, seq float64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, scoreKey, redis.Z{Score: score, Member: member})
		pipe.ZAdd(ctx, recencyKey, redis.Z{Score: seq, Member: member})
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", scoreKey, member, err)
	}
	return nil
}

// ZAdd sets member's score.
func (c *Client) ZAdd(ctx context.Context, key, member string, score float64) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRevRange returns members in [start, stop] ordered by descending score.
func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := c.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toScored(zs), nil
}

// ZRevRangeAbove returns every member with score >= min, highest first.
func (c *Client) ZRevRangeAbove(ctx context.Context, key string, min float64) ([]ScoredMember, error) {
	zs, err := c.rdb.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	return toScored(zs), nil
}

// ZScores returns the score of each member. Absent members are omitted.
func (c *Client) ZScores(ctx context.Context, key string, members []string) (map[string]float64, error) {
	cmds := make([]*redis.FloatCmd, len(members))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.ZScore(ctx, key, m)
		}
		return nil
	})
	if err != nil && !IsNilError(err) {
		return nil, err
	}
	out := make(map[string]float64, len(members))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err != nil {
			if IsNilError(err) {
				continue
			}
			return nil, err
		}
		out[members[i]] = v
	}
	return out, nil
}

// ZRemRangeBelow removes members scored strictly below max.
func (c *Client) ZRemRangeBelow(ctx context.Context, key string, max float64) error {
	return c.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatFloat(max, 'f', -1, 64)).Err()
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func toScored(zs []redis.Z) []ScoredMember {
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out
}
