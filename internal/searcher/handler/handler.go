package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/middleware"
)

const maxBodyBytes = 16 << 10

type SearchService interface {
	ExecuteSearch(ctx context.Context, userID, query string) (*pipeline.SearchResult, error)
	Page(ctx context.Context, key string, page int) (*listing.Page, error)
	GetRecommendations(ctx context.Context, userID string) (*pipeline.Recommendations, error)
}

type CacheAdmin interface {
	Stats() cache.Stats
	Invalidate(ctx context.Context) (int64, error)
}

// ScoreAdmin is satisfied by *backup.Service, which clears live and
// durable scores together.
type ScoreAdmin interface {
	ResetScores(ctx context.Context, scope scores.Scope) (int64, error)
}

type Handler struct {
	search SearchService
	cache  CacheAdmin
	scores ScoreAdmin
	logger *slog.Logger
}

func New(search SearchService, cacheAdmin CacheAdmin, scoreAdmin ScoreAdmin) *Handler {
	return &Handler{
		search: search,
		cache:  cacheAdmin,
		scores: scoreAdmin,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Routes registers the search API on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/{key}", h.Results)
	mux.HandleFunc("GET /api/v1/recommendations", h.Recommendations)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("DELETE /api/v1/scores", h.ResetScores)
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	*pipeline.SearchResult
	ResultsURL string `json:"results_url"`
}

// Search handles POST /api/v1/search with {"query": "..."}.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "request body must be JSON with a query field")
		return
	}

	ctx := r.Context()
	result, err := h.search.ExecuteSearch(ctx, middleware.GetUserID(ctx), req.Query)
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, searchResponse{
		SearchResult: result,
		ResultsURL:   fmt.Sprintf("/api/v1/search/%s?page=1", result.CacheKey),
	})
}

// Results handles GET /api/v1/search/{key}?page=N. Missing or malformed
// page numbers read page 1; out-of-range ones are clamped.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page = n
		}
	}
	p, err := h.search.Page(r.Context(), r.PathValue("key"), page)
	if err != nil {
		h.writeAppError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// Recommendations handles GET /api/v1/recommendations for the calling
// user, or the global set for anonymous callers.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recs, err := h.search.GetRecommendations(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": n})
}

// ResetScores handles DELETE /api/v1/scores: the calling user's keyword
// scores are dropped. The stored recommendation set is left to the next
// refresh. Anonymous callers cannot reset the global scope.
func (h *Handler) ResetScores(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "a user id is required to reset scores")
		return
	}
	scope := scores.UserScope(userID)
	n, err := h.scores.ResetScores(r.Context(), scope)
	if err != nil {
		h.logger.Error("score reset failed", "scope", scope, "error", err)
		h.writeError(w, http.StatusInternalServerError, "score reset failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "scope": scope, "keys_deleted": n})
}

// writeAppError maps domain errors to their status. AppError messages are
// shown for client errors only; upstream details of 5xx failures stay in
// the log.
func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := "internal error"
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, apperrors.ErrFetch):
		message = "listing fetch failed, please try again"
	case errors.As(err, &appErr) && status < 500:
		message = appErr.Message
	}
	if status >= 500 {
		logger.FromContext(ctx).Error("request failed", "status", status, "error", err)
	}
	h.writeError(w, status, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
