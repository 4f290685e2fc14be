// Package scores keeps per-scope keyword frequency tables in Redis sorted
// sets. Every completed search increments the values of its filter, and the
// recommendation engine reads the top value of each dimension back.
package scores

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
)

// Scope identifies whose preferences a score belongs to.
type Scope string

// Global aggregates every search.
const Global Scope = "global"

// UserScope returns the scope of one user.
func UserScope(userID string) Scope {
	return Scope("user:" + userID)
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s == Global }

// UserID returns the user id of a user scope, or "" for the global scope.
func (s Scope) UserID() string {
	id, _ := strings.CutPrefix(string(s), "user:")
	if id == string(s) {
		return ""
	}
	return id
}

// ParseScope validates a scope read back from storage.
func ParseScope(s string) (Scope, error) {
	if s == string(Global) {
		return Global, nil
	}
	if id, ok := strings.CutPrefix(s, "user:"); ok && id != "" && !strings.Contains(id, ":") {
		return Scope(s), nil
	}
	return "", fmt.Errorf("invalid scope %q", s)
}

// Entry is one (scope, dimension, value) score.
type Entry struct {
	Scope     Scope
	Dimension filter.Dimension
	Value     string
	Score     float64
}

const (
	scoreInfix   = ":keywords:"
	recencyInfix = ":touched:"
)

func scoreKey(scope Scope, dim filter.Dimension) string {
	return string(scope) + scoreInfix + string(dim)
}

func recencyKey(scope Scope, dim filter.Dimension) string {
	return string(scope) + recencyInfix + string(dim)
}

// Store is the Redis-backed score store. Increments are atomic ZINCRBY
// calls so concurrent searches never lose updates.
type Store struct {
	client  *pkgredis.Client
	logger  *slog.Logger
	lastSeq atomic.Int64
}

func NewStore(client *pkgredis.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "score-store"),
	}
}

// nextSeq returns a strictly increasing recency marker. Microseconds keep
// the value exact in a float64 sorted-set score.
func (s *Store) nextSeq() float64 {
	for {
		last := s.lastSeq.Load()
		next := max(time.Now().UnixMicro(), last+1)
		if s.lastSeq.CompareAndSwap(last, next) {
			return float64(next)
		}
	}
}

// Increment adds amount to (scope, dim, value), creating it at amount when
// absent, and marks the value as the most recently touched in its
// dimension. It returns the new score.
func (s *Store) Increment(ctx context.Context, scope Scope, dim filter.Dimension, value string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative increment %v for %s/%s", amount, scope, dim)
	}
	return s.client.IncrementWithRecency(ctx, scoreKey(scope, dim), recencyKey(scope, dim), value, amount, s.nextSeq())
}

// Set overwrites the score of e. Restore uses it so a restart does not
// double count.
func (s *Store) Set(ctx context.Context, e Entry) error {
	return s.client.SetWithRecency(ctx, scoreKey(e.Scope, e.Dimension), recencyKey(e.Scope, e.Dimension), e.Value, e.Score, s.nextSeq())
}

// Score returns the current score of (scope, dim, value).
func (s *Store) Score(ctx context.Context, scope Scope, dim filter.Dimension, value string) (float64, bool, error) {
	got, err := s.client.ZScores(ctx, scoreKey(scope, dim), []string{value})
	if err != nil {
		return 0, false, err
	}
	v, ok := got[value]
	return v, ok, nil
}

// Top returns up to count entries of (scope, dim) by descending score.
// Equal scores are ordered by recency, most recently incremented first.
func (s *Store) Top(ctx context.Context, scope Scope, dim filter.Dimension, count int) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}
	key := scoreKey(scope, dim)
	head, err := s.client.ZRevRange(ctx, key, 0, int64(count-1))
	if err != nil {
		return nil, fmt.Errorf("reading top of %s: %w", key, err)
	}
	if len(head) == 0 {
		return nil, nil
	}

	// Pull in every member tied with the cutoff so recency can pick among
	// them.
	candidates, err := s.client.ZRevRangeAbove(ctx, key, head[len(head)-1].Score)
	if err != nil {
		return nil, fmt.Errorf("reading ties of %s: %w", key, err)
	}
	members := make([]string, len(candidates))
	for i, c := range candidates {
		members[i] = c.Member
	}
	recency, err := s.client.ZScores(ctx, recencyKey(scope, dim), members)
	if err != nil {
		return nil, fmt.Errorf("reading recency of %s: %w", key, err)
	}

	slices.SortStableFunc(candidates, func(a, b pkgredis.ScoredMember) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(recency[b.Member], recency[a.Member])
	})

	out := make([]Entry, 0, min(count, len(candidates)))
	for _, c := range candidates[:min(count, len(candidates))] {
		out = append(out, Entry{Scope: scope, Dimension: dim, Value: c.Member, Score: c.Score})
	}
	return out, nil
}

// TopValues returns the single top value of every dimension with a
// recorded score in scope.
func (s *Store) TopValues(ctx context.Context, scope Scope) (map[filter.Dimension]string, error) {
	out := make(map[filter.Dimension]string, len(filter.Dimensions))
	for _, dim := range filter.Dimensions {
		top, err := s.Top(ctx, scope, dim, 1)
		if err != nil {
			return nil, err
		}
		if len(top) == 1 {
			out[dim] = top[0].Value
		}
	}
	return out, nil
}

// All yields every score entry, or only those of scope when it is
// non-empty. Each range starts a new scan, so the sequence can be iterated
// again; each entry reflects its sorted set at the time it was read.
func (s *Store) All(ctx context.Context, scope Scope) iter.Seq2[Entry, error] {
	pattern := "*" + scoreInfix + "*"
	if scope != "" {
		pattern = string(scope) + scoreInfix + "*"
	}
	return func(yield func(Entry, error) bool) {
		for key, err := range s.client.Scan(ctx, pattern) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			keyScope, dim, err := parseScoreKey(key)
			if err != nil {
				s.logger.Warn("skipping unrecognized score key", "key", key, "error", err)
				continue
			}
			members, err := s.client.ZRevRange(ctx, key, 0, -1)
			if err != nil {
				if !yield(Entry{}, fmt.Errorf("reading %s: %w", key, err)) {
					return
				}
				continue
			}
			for _, m := range members {
				if !yield(Entry{Scope: keyScope, Dimension: dim, Value: m.Member, Score: m.Score}, nil) {
					return
				}
			}
		}
	}
}

// Reset deletes every score of scope. It is the only operation that lowers
// a score.
func (s *Store) Reset(ctx context.Context, scope Scope) (int64, error) {
	var deleted int64
	for _, infix := range []string{scoreInfix, recencyInfix} {
		n, err := s.client.FlushByPattern(ctx, string(scope)+infix+"*")
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("resetting %s: %w", scope, err)
		}
	}
	s.logger.Info("scores reset", "scope", scope, "keys_deleted", deleted)
	return deleted, nil
}

func parseScoreKey(key string) (Scope, filter.Dimension, error) {
	scopePart, dimPart, ok := strings.Cut(key, scoreInfix)
	if !ok {
		return "", "", fmt.Errorf("missing %q", scoreInfix)
	}
	scope, err := ParseScope(scopePart)
	if err != nil {
		return "", "", err
	}
	dim, err := filter.ParseDimension(dimPart)
	if err != nil {
		return "", "", err
	}
	return scope, dim, nil
}
