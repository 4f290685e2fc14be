// Package recommend turns accumulated keyword scores into per-scope
// recommendation sets. Scores are updated after every completed search; a
// scheduled refresh rebuilds the sets of the global scope and of every
// recently active user.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
)

type Engine struct {
	scores   *scores.Store
	cache    *cache.ListingCache
	fetcher  listing.Fetcher
	sets     *Store
	activity *ActivityTracker
	metrics  *metrics.Metrics
	size     int
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(
	scoreStore *scores.Store,
	listingCache *cache.ListingCache,
	fetcher listing.Fetcher,
	sets *Store,
	activity *ActivityTracker,
	cfg config.PipelineConfig,
	m *metrics.Metrics,
) *Engine {
	size := cfg.RecommendationSize
	if size <= 0 {
		size = 10
	}
	window := cfg.ActiveWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Engine{
		scores:   scoreStore,
		cache:    listingCache,
		fetcher:  fetcher,
		sets:     sets,
		activity: activity,
		metrics:  m,
		size:     size,
		window:   window,
		logger:   slog.Default().With("component", "recommend-engine"),
		now:      time.Now,
	}
}

// UpdateScores adds one point to every distinct value of f, in the user's
// scope and in the global scope. An empty userID scores the global scope
// only. Every increment is attempted; failures are joined.
func (e *Engine) UpdateScores(ctx context.Context, userID string, f filter.Filter) error {
	targets := []scores.Scope{scores.Global}
	if userID != "" {
		targets = append(targets, scores.UserScope(userID))
	}
	var errs []error
	for dim, values := range f.Values() {
		for _, v := range values {
			for _, scope := range targets {
				if _, err := e.scores.Increment(ctx, scope, dim, v, 1); err != nil {
					errs = append(errs, err)
					continue
				}
				e.metrics.ScoreIncrementsTotal.WithLabelValues(string(dim)).Inc()
			}
		}
	}
	return errors.Join(errs...)
}

// Recommend builds the set of scope from the top value of every
// dimension. Optional dimensions without a score are left out; a required
// dimension without a score fails with ErrNoScores. Listings resolve
// through the listing cache like an ordinary search.
func (e *Engine) Recommend(ctx context.Context, scope scores.Scope) (*Set, error) {
	values, err := e.scores.TopValues(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("reading top values of %s: %w", scope, err)
	}
	for _, dim := range filter.Dimensions {
		if dim.Required() && values[dim] == "" {
			return nil, fmt.Errorf("%w: %s has no %s score", apperrors.ErrNoScores, scope, dim)
		}
	}
	f, err := filter.FromTopValues(values)
	if err != nil {
		return nil, fmt.Errorf("composing filter for %s: %w", scope, err)
	}

	entry, _, err := e.cache.GetOrFetch(ctx, f, func(ctx context.Context) ([]listing.Record, error) {
		return e.fetcher.Fetch(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("resolving listings for %s: %w", scope, err)
	}

	return &Set{
		Scope:     scope,
		Filter:    f,
		SourceKey: cache.KeyOf(f),
		Records:   slices.Clone(entry.Records[:min(e.size, len(entry.Records))]),
		UpdatedAt: e.now().UTC(),
	}, nil
}

// Refresh recomputes and installs the set of scope. On failure the stored
// set is left as it was.
func (e *Engine) Refresh(ctx context.Context, scope scores.Scope) error {
	set, err := e.Recommend(ctx, scope)
	if err != nil {
		return err
	}
	return e.sets.Put(ctx, set)
}

// RefreshAll refreshes the global scope and every user active within the
// window. Each scope is refreshed independently: one failure is logged and
// the loop moves on. Scopes without enough scores are skipped.
func (e *Engine) RefreshAll(ctx context.Context) error {
	scopes := []scores.Scope{scores.Global}
	users, err := e.activity.Active(ctx, e.window)
	if err != nil {
		e.logger.Error("listing active users failed", "error", err)
	}
	for _, u := range users {
		scopes = append(scopes, scores.UserScope(u))
	}

	var (
		failed    []error
		refreshed int
		skipped   int
	)
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.Refresh(ctx, scope)
		switch {
		case err == nil:
			refreshed++
		case errors.Is(err, apperrors.ErrNoScores):
			skipped++
			e.logger.Debug("recommendation skipped", "scope", scope, "reason", err)
		default:
			e.logger.Error("recommendation refresh failed", "scope", scope, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", scope, err))
		}
	}
	e.logger.Info("recommendations refreshed",
		"scopes", len(scopes),
		"refreshed", refreshed,
		"skipped", skipped,
		"failed", len(failed),
	)
	return errors.Join(failed...)
}
