package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/middleware"
)

const testKey = "search:0123456789abcdef0123456789abcdef:results"

type fakeService struct {
	searchErr error
	lastUser  string
	lastQuery string
	lastPage  int
}

func (f *fakeService) ExecuteSearch(_ context.Context, userID, query string) (*pipeline.SearchResult, error) {
	f.lastUser, f.lastQuery = userID, query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &pipeline.SearchResult{CacheKey: testKey, ResultCount: 42}, nil
}

func (f *fakeService) Page(_ context.Context, key string, page int) (*listing.Page, error) {
	f.lastPage = page
	if key != testKey {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "search results expired, please search again")
	}
	p := listing.Paginate(make([]listing.Record, 42), page, 30)
	return &p, nil
}

func (f *fakeService) GetRecommendations(_ context.Context, userID string) (*pipeline.Recommendations, error) {
	f.lastUser = userID
	return &pipeline.Recommendations{Scope: scores.Global, Records: []listing.Record{}, Fallback: userID != ""}, nil
}

type fakeCache struct {
	invalidated bool
}

func (c *fakeCache) Stats() cache.Stats { return cache.Stats{Hits: 3, Misses: 1} }

func (c *fakeCache) Invalidate(context.Context) (int64, error) {
	c.invalidated = true
	return 7, nil
}

type fakeScores struct {
	reset []scores.Scope
}

func (f *fakeScores) ResetScores(_ context.Context, scope scores.Scope) (int64, error) {
	f.reset = append(f.reset, scope)
	return 4, nil
}

func newTestServer(svc *fakeService, c *fakeCache) http.Handler {
	return newTestServerWithScores(svc, c, &fakeScores{})
}

func newTestServerWithScores(svc *fakeService, c *fakeCache, sc *fakeScores) http.Handler {
	mux := http.NewServeMux()
	New(svc, c, sc).Routes(mux)
	return middleware.UserID(mux)
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %s %s response %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, out
}

func TestSearch(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, &fakeCache{})

	rec, body := do(t, h, http.MethodPost, "/api/v1/search", `{"query": "강남 아파트 매매"}`,
		map[string]string{middleware.UserIDHeader: "42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["cache_key"] != testKey || body["result_count"] != float64(42) {
		t.Fatalf("body = %v", body)
	}
	if body["results_url"] != "/api/v1/search/"+testKey+"?page=1" {
		t.Fatalf("results_url = %v", body["results_url"])
	}
	if svc.lastUser != "42" || svc.lastQuery != "강남 아파트 매매" {
		t.Fatalf("service called with %q, %q", svc.lastUser, svc.lastQuery)
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		status  int
		message string
	}{
		{"malformed body", `{"query":`, nil, http.StatusBadRequest, "request body must be JSON with a query field"},
		{"extraction", `{"query": "좋은 집"}`, apperrors.Extraction("could not understand the query, please rephrase", nil),
			http.StatusUnprocessableEntity, "could not understand the query, please rephrase"},
		{"fetch", `{"query": "강남 아파트 매매"}`, apperrors.Fetch("listing fetch failed", errors.New("dial tcp 10.0.0.3:443")),
			http.StatusBadGateway, "listing fetch failed, please try again"},
		{"internal", `{"query": "강남 아파트 매매"}`, errors.New("redis: connection refused"),
			http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{searchErr: tt.err}, &fakeCache{})
			rec, body := do(t, h, http.MethodPost, "/api/v1/search", tt.body, nil)
			if rec.Code != tt.status || body["error"] != tt.message {
				t.Fatalf("got %d %v", rec.Code, body)
			}
		})
	}
}

func TestResults(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, &fakeCache{})

	rec, body := do(t, h, http.MethodGet, "/api/v1/search/"+testKey+"?page=2", "", nil)
	if rec.Code != http.StatusOK || body["current_page"] != float64(2) || body["has_next"] != false {
		t.Fatalf("got %d %v", rec.Code, body)
	}

	do(t, h, http.MethodGet, "/api/v1/search/"+testKey+"?page=abc", "", nil)
	if svc.lastPage != 1 {
		t.Fatalf("malformed page read as %d", svc.lastPage)
	}

	rec, body = do(t, h, http.MethodGet, "/api/v1/search/search:ffffffffffffffffffffffffffffffff:results", "", nil)
	if rec.Code != http.StatusNotFound || body["error"] != "search results expired, please search again" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

func TestRecommendations(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, &fakeCache{})

	rec, body := do(t, h, http.MethodGet, "/api/v1/recommendations", "", map[string]string{middleware.UserIDHeader: "42"})
	if rec.Code != http.StatusOK || body["fallback"] != true || body["scope"] != "global" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if svc.lastUser != "42" {
		t.Fatalf("user = %q", svc.lastUser)
	}
}

func TestCacheEndpoints(t *testing.T) {
	c := &fakeCache{}
	h := newTestServer(&fakeService{}, c)

	_, body := do(t, h, http.MethodGet, "/api/v1/cache/stats", "", nil)
	if body["hits"] != float64(3) || body["hit_rate"] != "75.0%" {
		t.Fatalf("stats = %v", body)
	}

	rec, body := do(t, h, http.MethodPost, "/api/v1/cache/invalidate", "", nil)
	if rec.Code != http.StatusOK || !c.invalidated || body["deleted"] != float64(7) {
		t.Fatalf("invalidate = %d %v", rec.Code, body)
	}
}

func TestResetScores(t *testing.T) {
	sc := &fakeScores{}
	h := newTestServerWithScores(&fakeService{}, &fakeCache{}, sc)

	rec, _ := do(t, h, http.MethodDelete, "/api/v1/scores", "", nil)
	if rec.Code != http.StatusBadRequest || len(sc.reset) != 0 {
		t.Fatalf("anonymous reset = %d, calls %v", rec.Code, sc.reset)
	}

	rec, body := do(t, h, http.MethodDelete, "/api/v1/scores", "", map[string]string{middleware.UserIDHeader: "42"})
	if rec.Code != http.StatusOK || body["scope"] != "user:42" || body["keys_deleted"] != float64(4) {
		t.Fatalf("reset = %d %v", rec.Code, body)
	}
	if len(sc.reset) != 1 || sc.reset[0] != scores.UserScope("42") {
		t.Fatalf("reset calls = %v", sc.reset)
	}
}
