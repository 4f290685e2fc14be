// Package pipeline runs a search end to end: keyword extraction, cache
// lookup or fetch, then scoring. It is the only entry point the HTTP layer
// uses for searches, result pages and recommendations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/recommend"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/tracing"
)

// MaxQueryLength bounds a query in runes.
const MaxQueryLength = 500

// Extractor turns a natural-language query into a validated Filter.
type Extractor interface {
	Extract(ctx context.Context, query string) (filter.Filter, error)
}

// EventTracker receives one event per finished search.
type EventTracker interface {
	Track(event analytics.SearchEvent)
}

// SearchResult is the handle returned for a completed search. The batch
// itself is read page by page through Page.
type SearchResult struct {
	CacheKey    string        `json:"cache_key"`
	ResultCount int           `json:"result_count"`
	CacheHit    bool          `json:"cache_hit"`
	Filter      filter.Filter `json:"filter"`
}

// Recommendations is the set served for a scope. Fallback is set when a
// user without a set of their own is served the global one.
type Recommendations struct {
	Scope     scores.Scope     `json:"scope"`
	Records   []listing.Record `json:"results"`
	Fallback  bool             `json:"fallback"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Service struct {
	extractor Extractor
	cache     *cache.ListingCache
	fetcher   listing.Fetcher
	engine    *recommend.Engine
	sets      *recommend.Store
	activity  *recommend.ActivityTracker
	events    EventTracker
	metrics   *metrics.Metrics
	pageSize  int
	logger    *slog.Logger
}

func NewService(
	extractor Extractor,
	listingCache *cache.ListingCache,
	fetcher listing.Fetcher,
	engine *recommend.Engine,
	sets *recommend.Store,
	activity *recommend.ActivityTracker,
	events EventTracker,
	cfg config.PipelineConfig,
	m *metrics.Metrics,
) *Service {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Service{
		extractor: extractor,
		cache:     listingCache,
		fetcher:   fetcher,
		engine:    engine,
		sets:      sets,
		activity:  activity,
		events:    events,
		metrics:   m,
		pageSize:  pageSize,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// ExecuteSearch runs one search for userID ("" for anonymous callers).
// Extraction and fetch failures end the run before scoring, so a failed
// search never touches the score store or the listing cache.
func (s *Service) ExecuteSearch(ctx context.Context, userID, query string) (*SearchResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "query exceeds %d characters", MaxQueryLength)
	}
	log := logger.FromContext(ctx).With("component", "pipeline")
	ctx, trace := tracing.Start(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		trace.End()
		trace.Log(ctx, log)
	}()

	event := analytics.SearchEvent{
		UserID:    userID,
		Query:     query,
		Timestamp: start.UTC(),
		RequestID: middleware.GetRequestID(ctx),
	}
	finish := func(status analytics.Status, err error) {
		event.Status = status
		event.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			event.ErrorType = errorType(err)
		}
		s.metrics.SearchesTotal.WithLabelValues(string(status)).Inc()
		if s.events != nil {
			s.events.Track(event)
		}
	}

	stageCtx, span := tracing.StartChild(ctx, "extract")
	f, err := s.extractor.Extract(stageCtx, query)
	s.metrics.StageLatency.WithLabelValues("extract").Observe(span.End().Seconds())
	if err != nil {
		if !errors.Is(err, apperrors.ErrExtraction) {
			err = apperrors.Extraction("could not understand the query, please rephrase", err)
		}
		log.Info("search failed at extraction", "error", err)
		finish(analytics.StatusFailedExtraction, err)
		return nil, err
	}
	f = f.Normalize()
	event.Filter = &f
	key := cache.KeyOf(f)
	event.CacheKey = key

	stageCtx, span = tracing.StartChild(ctx, "resolve")
	entry, hit, err := s.cache.GetOrFetch(stageCtx, f, func(ctx context.Context) ([]listing.Record, error) {
		return s.fetch(ctx, f)
	})
	s.metrics.StageLatency.WithLabelValues("resolve").Observe(span.End().Seconds())
	if err != nil {
		if !errors.Is(err, apperrors.ErrFetch) {
			err = apperrors.Fetch("listing fetch failed, please try again", err)
		}
		log.Warn("search failed at fetch", "cache_key", key, "error", err)
		finish(analytics.StatusFailedFetch, err)
		return nil, err
	}
	span.SetAttr("cache_hit", hit)
	if hit {
		s.metrics.CacheHitsTotal.Inc()
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}

	stageCtx, span = tracing.StartChild(ctx, "score")
	if err := s.engine.UpdateScores(stageCtx, userID, f); err != nil {
		log.Error("score update incomplete", "cache_key", key, "error", err)
	}
	if userID != "" {
		if err := s.activity.Touch(stageCtx, userID); err != nil {
			log.Warn("activity not recorded", "error", err)
		}
	}
	s.metrics.StageLatency.WithLabelValues("score").Observe(span.End().Seconds())

	event.ResultCount = entry.Count
	event.CacheHit = hit
	s.metrics.ListingsPerSearch.Observe(float64(entry.Count))
	finish(analytics.StatusCompleted, nil)

	log.Info("search completed",
		"cache_key", key,
		"cache_hit", hit,
		"results", entry.Count,
		"latency_ms", event.LatencyMs,
	)
	return &SearchResult{
		CacheKey:    key,
		ResultCount: entry.Count,
		CacheHit:    hit,
		Filter:      f,
	}, nil
}

// fetch calls the fetcher and caps the batch.
func (s *Service) fetch(ctx context.Context, f filter.Filter) ([]listing.Record, error) {
	ctx, span := tracing.StartChild(ctx, "fetch")
	defer span.End()
	records, err := s.fetcher.Fetch(ctx, f)
	if err != nil {
		return nil, err
	}
	span.SetAttr("records", len(records))
	return records, nil
}

// Page returns one page of the batch cached under key. An expired or
// unknown key is ErrNotFound.
func (s *Service) Page(ctx context.Context, key string, page int) (*listing.Page, error) {
	if !cache.ValidKey(key) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed cache key %q", key)
	}
	entry, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "search results expired, please search again")
	}
	p := listing.Paginate(entry.Records, page, s.pageSize)
	return &p, nil
}

// GetRecommendations reads the stored set of the caller's scope without
// refreshing it. A user without a set gets the global set.
func (s *Service) GetRecommendations(ctx context.Context, userID string) (*Recommendations, error) {
	if userID != "" {
		set, ok, err := s.sets.Get(ctx, scores.UserScope(userID))
		if err != nil {
			return nil, fmt.Errorf("reading user recommendations: %w", err)
		}
		if ok {
			return &Recommendations{Scope: set.Scope, Records: set.Records, UpdatedAt: set.UpdatedAt}, nil
		}
	}
	set, ok, err := s.sets.Get(ctx, scores.Global)
	if err != nil {
		return nil, fmt.Errorf("reading global recommendations: %w", err)
	}
	if !ok {
		return &Recommendations{Scope: scores.Global, Records: []listing.Record{}, Fallback: userID != ""}, nil
	}
	return &Recommendations{
		Scope:     scores.Global,
		Records:   set.Records,
		Fallback:  userID != "",
		UpdatedAt: set.UpdatedAt,
	}, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrExtraction):
		return "extraction"
	case errors.Is(err, apperrors.ErrFetch):
		return "fetch"
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
