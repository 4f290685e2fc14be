package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
)

type Status string

const (
	StatusCompleted        Status = "completed"
	StatusFailedExtraction Status = "failed_extraction"
	StatusFailedFetch      Status = "failed_fetch"
	StatusFailedInternal   Status = "failed_internal"
)

// EventType tags published search events; consumers log it per message.
const EventType = "search_event.v1"

// SearchEvent describes one finished search pipeline run, successful or
// not.
type SearchEvent struct {
	UserID      string         `json:"user_id,omitempty"`
	Query       string         `json:"query"`
	Filter      *filter.Filter `json:"filter,omitempty"`
	Status      Status         `json:"status"`
	ErrorType   string         `json:"error_type,omitempty"`
	CacheKey    string         `json:"cache_key,omitempty"`
	ResultCount int            `json:"result_count"`
	CacheHit    bool           `json:"cache_hit"`
	LatencyMs   int64          `json:"latency_ms"`
	Timestamp   time.Time      `json:"timestamp"`
	RequestID   string         `json:"request_id,omitempty"`
}
