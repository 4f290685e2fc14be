package analytics

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	Completed         int64        `json:"completed"`
	FailedExtraction  int64        `json:"failed_extraction"`
	FailedFetch       int64        `json:"failed_fetch"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	TopAddresses      []QueryCount `json:"top_addresses"`
	TopBuildingTypes  []QueryCount `json:"top_building_types"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

const (
	latencyWindow = 10000
	topLimit      = 10
)

// Aggregator keeps running totals over every consumed search event and
// latency percentiles over the most recent latencyWindow of them.
type Aggregator struct {
	mu      sync.Mutex
	started time.Time

	byStatus  map[Status]int64
	hits      int64
	misses    int64
	zero      int64
	latencies []int64 // ring buffer
	next      int

	queries       map[string]int64
	addresses     map[string]int64
	buildingTypes map[string]int64
	zeroQueries   map[string]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		started:       time.Now(),
		byStatus:      make(map[Status]int64),
		latencies:     make([]int64, 0, latencyWindow),
		queries:       make(map[string]int64),
		addresses:     make(map[string]int64),
		buildingTypes: make(map[string]int64),
		zeroQueries:   make(map[string]int64),
	}
}

// HistoryWriter persists consumed search events.
type HistoryWriter interface {
	Insert(ctx context.Context, event SearchEvent) error
}

// HandleEvent builds the consumer callback. An event is aggregated only
// after history (when non-nil) has stored it, so a failed insert can be
// retried without double counting. Undecodable messages are permanent
// errors.
func HandleEvent(agg *Aggregator, history HistoryWriter) kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			return resilience.Permanent(err)
		}
		if history != nil {
			if err := history.Insert(ctx, event); err != nil {
				return err
			}
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.byStatus[event.Status]++
	a.queries[event.Query]++
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
	if f := event.Filter; f != nil {
		if f.Address != "" {
			a.addresses[f.Address]++
		}
		for _, bt := range f.BuildingTypes {
			a.buildingTypes[string(bt)]++
		}
	}

	if event.Status != StatusCompleted {
		return
	}
	if event.CacheHit {
		a.hits++
	} else {
		a.misses++
	}
	if event.ResultCount == 0 {
		a.zero++
		a.zeroQueries[event.Query]++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total int64
	for _, n := range a.byStatus {
		total += n
	}
	stats := AggregatedStats{
		TotalSearches:     total,
		Completed:         a.byStatus[StatusCompleted],
		FailedExtraction:  a.byStatus[StatusFailedExtraction],
		FailedFetch:       a.byStatus[StatusFailedFetch],
		CacheHits:         a.hits,
		CacheMisses:       a.misses,
		ZeroResultCount:   a.zero,
		TopQueries:        topN(a.queries, topLimit),
		TopAddresses:      topN(a.addresses, topLimit),
		TopBuildingTypes:  topN(a.buildingTypes, topLimit),
		ZeroResultQueries: topN(a.zeroQueries, topLimit),
	}
	if n := len(a.latencies); n > 0 {
		sorted := slices.Sorted(slices.Values(a.latencies))
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(n)
		stats.P50LatencyMs = sorted[rank(n, 50)]
		stats.P95LatencyMs = sorted[rank(n, 95)]
		stats.P99LatencyMs = sorted[rank(n, 99)]
	}
	if minutes := time.Since(a.started).Minutes(); minutes > 0 {
		stats.QueriesPerMinute = float64(total) / minutes
	}
	return stats
}

func rank(n, pct int) int {
	return min(pct*n/100, n-1)
}

// topN orders by count, then alphabetically so equal counts are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	slices.SortFunc(out, func(x, y QueryCount) int {
		return cmp.Or(cmp.Compare(y.Count, x.Count), cmp.Compare(x.Query, y.Query))
	})
	return out[:min(n, len(out))]
}
