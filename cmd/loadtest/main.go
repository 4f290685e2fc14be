// Command loadtest drives the search API with Korean listing queries from a
// pool of synthetic users. A share of the traffic reads recommendations so
// the refresh path sees load too. It prints latency percentiles per route,
// status codes and the listing cache hit ratio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

var queries = []string{
	"강남구 아파트 매매 10억 이하",
	"서초구 아파트 전세 5억",
	"송파 오피스텔 월세 보증금 1000 월 70",
	"마포구 원룸 월세",
	"분당 아파트 매매 30평대",
	"수원시 빌라 전세 2억",
	"해운대구 아파트 매매",
	"용산구 오피스텔 전세 3억",
	"관악구 원룸 월세 보증금 500 월 50",
	"성동구 아파트 매매 15억",
}

const (
	routeSearch          = "search"
	routeRecommendations = "recommendations"
)

type options struct {
	baseURL   string
	workers   int
	users     int
	duration  time.Duration
	recoShare float64
}

// recorder collects samples from every worker.
type recorder struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	statuses  map[int]int
	failures  int
	hits      int
	misses    int
}

func newRecorder() *recorder {
	return &recorder{
		latencies: make(map[string][]time.Duration),
		statuses:  make(map[int]int),
	}
}

func (r *recorder) observe(route string, took time.Duration, status int, cacheHit *bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[route] = append(r.latencies[route], took)
	r.statuses[status]++
	if cacheHit != nil {
		if *cacheHit {
			r.hits++
		} else {
			r.misses++
		}
	}
}

func (r *recorder) fail() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the search service")
	flag.IntVar(&opts.workers, "concurrency", 10, "number of concurrent workers")
	flag.IntVar(&opts.users, "users", 50, "number of distinct X-User-ID values")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&opts.recoShare, "reco-share", 0.2, "fraction of requests that read recommendations")
	flag.Parse()
	opts.users = max(opts.users, 1)

	fmt.Printf("load test: %s, %d workers, %d users, %s\n", opts.baseURL, opts.workers, opts.users, opts.duration)

	rec := run(opts)
	if !report(os.Stdout, rec, opts.duration) {
		fmt.Fprintln(os.Stderr, "no requests completed; is the search service running?")
		os.Exit(1)
	}
}

func run(opts options) *recorder {
	rec := newRecorder()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: opts.workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range opts.workers {
		wg.Go(func() {
			for i := w; ctx.Err() == nil; i++ {
				userID := strconv.Itoa(i%opts.users + 1)
				route, req := routeSearch, searchRequest(ctx, opts.baseURL, userID, queries[i%len(queries)])
				if rand.Float64() < opts.recoShare {
					route, req = routeRecommendations, recommendationsRequest(ctx, opts.baseURL, userID)
				}
				send(ctx, client, rec, route, req)
			}
		})
	}
	wg.Wait()
	return rec
}

func send(ctx context.Context, client *http.Client, rec *recorder, route string, req *http.Request) {
	start := time.Now()
	resp, err := client.Do(req)
	took := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			rec.fail()
		}
		return
	}
	defer resp.Body.Close()

	var cacheHit *bool
	if route == routeSearch && resp.StatusCode == http.StatusOK {
		var body struct {
			CacheHit bool `json:"cache_hit"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			cacheHit = &body.CacheHit
		}
	}
	io.Copy(io.Discard, resp.Body)
	rec.observe(route, took, resp.StatusCode, cacheHit)
}

func searchRequest(ctx context.Context, baseURL, userID, query string) *http.Request {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("building search request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	return req
}

func recommendationsRequest(ctx context.Context, baseURL, userID string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/recommendations", nil)
	if err != nil {
		panic(fmt.Sprintf("building recommendations request: %v", err))
	}
	req.Header.Set("X-User-ID", userID)
	return req
}

// report prints the summary and returns false when nothing completed.
func report(out io.Writer, rec *recorder, elapsed time.Duration) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	completed := 0
	for _, l := range rec.latencies {
		completed += len(l)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "\ncompleted\t%d\nfailed\t%d\n", completed, rec.failures)
	if completed == 0 {
		return false
	}
	fmt.Fprintf(tw, "throughput\t%.1f req/s\n", float64(completed)/elapsed.Seconds())
	if n := rec.hits + rec.misses; n > 0 {
		fmt.Fprintf(tw, "cache hit rate\t%.1f%%\n", float64(rec.hits)/float64(n)*100)
	}

	fmt.Fprintln(tw, "\nroute\tcount\tp50\tp90\tp99\tmax")
	for _, route := range []string{routeSearch, routeRecommendations} {
		l := slices.Clone(rec.latencies[route])
		if len(l) == 0 {
			continue
		}
		slices.Sort(l)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", route, len(l),
			percentile(l, 0.50), percentile(l, 0.90), percentile(l, 0.99), l[len(l)-1])
	}

	fmt.Fprintln(tw, "\nstatus\tcount")
	for _, code := range slices.Sorted(maps.Keys(rec.statuses)) {
		fmt.Fprintf(tw, "%d\t%d\n", code, rec.statuses[code])
	}
	return true
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.999999) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)].Round(time.Microsecond)
}
