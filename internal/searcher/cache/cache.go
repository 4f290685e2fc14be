// Package cache stores scraped listing batches in Redis under a key derived
// from the canonical form of the search filter.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "search:"
	keySuffix = ":results"

	defaultFetchTimeout = 90 * time.Second
)

// Entry is one cached batch. ExpiresAt is authoritative: an entry read
// after it is a miss even if Redis has not evicted the key yet.
type Entry struct {
	Filter    filter.Filter    `json:"filter"`
	Records   []listing.Record `json:"records"`
	Count     int              `json:"count"`
	CachedAt  time.Time        `json:"cached_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// ListingCache is the listing batch cache.
type ListingCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group

	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	hits         atomic.Int64
	misses       atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *ListingCache {
	ttl := cfg.ListingTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ListingCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "listing-cache"),
		now:    time.Now,

		fetchTimeout: defaultFetchTimeout,
	}
}

// WithFetchTimeout bounds a shared miss fetch. Non-positive values keep
// the default.
func (c *ListingCache) WithFetchTimeout(d time.Duration) *ListingCache {
	if d > 0 {
		c.fetchTimeout = d
	}
	return c
}

// WithClock replaces the wall clock used for expiry checks.
func (c *ListingCache) WithClock(now func() time.Time) *ListingCache {
	c.now = now
	return c
}

// KeyOf derives the cache key of f: sha256 over the JSON encoding of the
// normalized filter, truncated to 128 bits. Struct fields encode in
// declaration order and Normalize sorts the set-valued fields, so equal
// filters always serialize to the same bytes.
func KeyOf(f filter.Filter) string {
	data, err := json.Marshal(f.Normalize())
	if err != nil {
		// Filter holds only strings and integers.
		panic(fmt.Sprintf("cache: marshaling filter: %v", err))
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s%x%s", keyPrefix, hash[:16], keySuffix)
}

// ValidKey reports whether key has the shape produced by KeyOf.
func ValidKey(key string) bool {
	hexPart, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return false
	}
	hexPart, ok = strings.CutSuffix(hexPart, keySuffix)
	if !ok || len(hexPart) != 32 {
		return false
	}
	for _, r := range hexPart {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			return false
		}
	}
	return true
}

// Get returns the live entry under key. Missing, expired and undecodable
// entries are all misses.
func (c *ListingCache) Get(ctx context.Context, key string) (*Entry, bool) {
	entry, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

func (c *ListingCache) lookup(ctx context.Context, key string) (*Entry, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		c.logger.Debug("cache entry expired", "key", key, "expires_at", entry.ExpiresAt)
		return nil, false
	}
	return &entry, true
}

// Put installs records for f under KeyOf(f), replacing any previous batch.
// The batch is written as a single value so readers never see a partial
// install.
func (c *ListingCache) Put(ctx context.Context, f filter.Filter, records []listing.Record) (*Entry, error) {
	key := KeyOf(f)
	now := c.now()
	if records == nil {
		records = []listing.Record{}
	}
	entry := &Entry{
		Filter:    f.Normalize(),
		Records:   records,
		Count:     len(records),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		return nil, fmt.Errorf("storing cache entry %s: %w", key, err)
	}
	c.logger.Debug("cache installed", "key", key, "count", entry.Count)
	return entry, nil
}

// GetOrFetch returns the live batch for f, calling fetch on a miss.
// Concurrent misses for the same key share one fetch, which runs detached
// from any single caller's cancellation and is bounded by the fetch
// timeout; each caller stops waiting when its own ctx ends. A failed fetch
// installs nothing, and batches are cut to listing.MaxPerFetch. The bool
// result reports a cache hit.
func (c *ListingCache) GetOrFetch(
	ctx context.Context,
	f filter.Filter,
	fetch func(ctx context.Context) ([]listing.Record, error),
) (*Entry, bool, error) {
	key := KeyOf(f)
	if entry, ok := c.Get(ctx, key); ok {
		return entry, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		if entry, ok := c.lookup(fetchCtx, key); ok {
			return entry, nil
		}
		records, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(records) > listing.MaxPerFetch {
			c.logger.Warn("fetch exceeded batch limit, truncating", "key", key, "records", len(records))
			records = records[:listing.MaxPerFetch]
		}
		return c.Put(fetchCtx, f, records)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.logger.Debug("cache fetch shared", "key", key)
		}
		return res.Val.(*Entry), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops every listing batch and returns how many keys were
// removed.
func (c *ListingCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*"+keySuffix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating listing cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ListingCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
