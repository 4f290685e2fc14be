package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
)

const setSuffix = ":recommendations"

// Set is the recommendation set of one scope. It is installed and replaced
// as a whole.
type Set struct {
	Scope     scores.Scope     `json:"scope"`
	Filter    filter.Filter    `json:"filter"`
	SourceKey string           `json:"source_key"`
	Records   []listing.Record `json:"records"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SetKey returns the Redis key holding the set of scope. It doubles as the
// recommendation identifier in durable snapshots.
func SetKey(scope scores.Scope) string {
	return string(scope) + setSuffix
}

// ScopeOfKey is the inverse of SetKey.
func ScopeOfKey(key string) (scores.Scope, error) {
	s, ok := strings.CutSuffix(key, setSuffix)
	if !ok {
		return "", fmt.Errorf("not a recommendation key: %q", key)
	}
	return scores.ParseScope(s)
}

// Store keeps recommendation sets in Redis without a TTL: a set lives until
// the next successful refresh replaces it.
type Store struct {
	client *pkgredis.Client
}

func NewStore(client *pkgredis.Client) *Store {
	return &Store{client: client}
}

// Get returns the set of scope. A missing set is reported with ok=false and
// a nil error.
func (s *Store) Get(ctx context.Context, scope scores.Scope) (*Set, bool, error) {
	data, err := s.client.Get(ctx, SetKey(scope))
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading recommendations of %s: %w", scope, err)
	}
	var set Set
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, false, fmt.Errorf("decoding recommendations of %s: %w", scope, err)
	}
	return &set, true, nil
}

// Put replaces the set of set.Scope with a single SET, so readers see
// either the previous set or this one.
func (s *Store) Put(ctx context.Context, set *Set) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding recommendations of %s: %w", set.Scope, err)
	}
	if err := s.client.Set(ctx, SetKey(set.Scope), data, 0); err != nil {
		return fmt.Errorf("storing recommendations of %s: %w", set.Scope, err)
	}
	return nil
}

// List yields every stored set. Sets that fail to decode are yielded as
// errors and the iteration continues.
func (s *Store) List(ctx context.Context) iter.Seq2[*Set, error] {
	return func(yield func(*Set, error) bool) {
		for key, err := range s.client.Scan(ctx, "*"+setSuffix) {
			if err != nil {
				yield(nil, err)
				return
			}
			scope, err := ScopeOfKey(key)
			if err != nil {
				continue
			}
			set, ok, err := s.Get(ctx, scope)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			if !yield(set, nil) {
				return
			}
		}
	}
}
