package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// HistoryReader lists recent search history.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]SearchEvent, error)
}

type Handler struct {
	aggregator *Aggregator
	history    HistoryReader
	logger     *slog.Logger
}

// NewHandler serves aggregated stats, and recent history when history is
// non-nil.
func NewHandler(aggregator *Aggregator, history HistoryReader) *Handler {
	return &Handler{
		aggregator: aggregator,
		history:    history,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

// History handles GET /api/v1/analytics/history?user_id=&limit=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "search history is not configured"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}
	events, err := h.history.Recent(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		h.logger.Error("listing search history failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if events == nil {
		events = []SearchEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"searches": events, "count": len(events)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
