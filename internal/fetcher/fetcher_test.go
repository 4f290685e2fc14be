package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

const itemTemplate = `
<div class="item">
  <div class="item_inner">
    <a class="item_link" href="/article/%d"></a>
    <em class="title_place">%s</em>
    <div class="price_area"><span class="type">매매</span><strong class="price">12억 5,000</strong></div>
    <div class="information_area"><p class="info"><strong class="type">아파트</strong><span class="spec">109/84.77㎡, 12/25층, 남향</span></p></div>
    <div class="tag_area"><em class="tag">역세권</em><em class="tag">대단지</em></div>
    <span class="icon-badge type-confirmed">확인매물 24.03.15.</span>
  </div>
</div>`

func page(start, n int, next string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := range n {
		fmt.Fprintf(&b, itemTemplate, start+i, fmt.Sprintf("래미안 %d동", start+i))
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="pagination_next" href="%s">다음</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func newTestFetcher(t *testing.T, srv *httptest.Server, timeout time.Duration) *Fetcher {
	t.Helper()
	f, err := New(config.FetcherConfig{BaseURL: srv.URL, MaxRecords: 50, Timeout: timeout, Parallelism: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func gangnam() filter.Filter {
	return filter.Filter{
		Address:          "서울시 강남구",
		TransactionTypes: []filter.TransactionType{filter.TransactionSale, filter.TransactionJeonse},
		BuildingTypes:    []filter.BuildingType{filter.BuildingApartment},
		SalePrice:        filter.Range{500000000, 1500000000},
		AreaBand:         filter.Area30s,
	}
}

func TestFetchParsesItems(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		body := page(1, 2, "")
		// An item without an owner name is dropped.
		body = strings.Replace(body, "</body>", fmt.Sprintf(itemTemplate, 99, "")+"</body>", 1)
		writeHTML(w, body)
	}))
	defer srv.Close()

	records, err := newTestFetcher(t, srv, 5*time.Second).Fetch(context.Background(), gangnam())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	r := records[0]
	if r.Address != "서울시 강남구" || r.OwnerName != "래미안 1동" || r.TransactionType != filter.TransactionSale ||
		r.BuildingType != filter.BuildingApartment || r.Price != 1_250_000_000 {
		t.Fatalf("record = %+v", r)
	}
	if r.AreaPyeong != 25.64 || r.FloorInfo != "12/25층" || r.Direction != "남향" || r.UpdatedDate != "2024-03-15" {
		t.Fatalf("spec fields = %+v", r)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "역세권" || r.DetailURL != srv.URL+"/article/1" {
		t.Fatalf("tags/link = %+v", r)
	}

	if query.Get("address") != "서울시 강남구" || query.Get("tradeTypes") != "매매,전세" ||
		query.Get("salePriceMin") != "500000000" || query.Get("salePriceMax") != "1500000000" ||
		query.Get("area") != "30평대" || query.Has("deposit") {
		t.Fatalf("query = %v", query)
	}
}

func TestFetchCapsAndFollowsPages(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search/list", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeHTML(w, page(1, 30, "/search/list/2"))
	})
	mux.HandleFunc("/search/list/2", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeHTML(w, page(31, 30, "/search/list/3"))
	})
	mux.HandleFunc("/search/list/3", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeHTML(w, page(61, 30, ""))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records, err := newTestFetcher(t, srv, 5*time.Second).Fetch(context.Background(), gangnam())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != listing.MaxPerFetch {
		t.Fatalf("records = %d", len(records))
	}
	if records[49].OwnerName != "래미안 50동" {
		t.Fatalf("last record = %+v", records[49])
	}
	if requests.Load() != 2 {
		t.Fatalf("requests = %d, third page should not be fetched", requests.Load())
	}
}

func TestFetchEmptyPageIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, page(0, 0, ""))
	}))
	defer srv.Close()

	records, err := newTestFetcher(t, srv, 5*time.Second).Fetch(context.Background(), gangnam())
	if err != nil {
		t.Fatal(err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("records = %#v", records)
	}
}

func TestFetchServerErrorIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 5*time.Second)
	_, err := f.Fetch(context.Background(), gangnam())
	if !errors.Is(err, apperrors.ErrFetch) || apperrors.HTTPStatusCode(err) != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}

	for range 2 {
		f.Fetch(context.Background(), gangnam())
	}
	if f.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker = %s", f.BreakerState())
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestFetcher(t, srv, 100*time.Millisecond).Fetch(context.Background(), gangnam())
	if !errors.Is(err, apperrors.ErrFetch) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("fetch took %v", time.Since(start))
	}
}

func TestSearchURL(t *testing.T) {
	flt := filter.Filter{
		Address:          "경기도 수원시",
		TransactionTypes: []filter.TransactionType{filter.TransactionMonthlyRent},
		BuildingTypes:    []filter.BuildingType{filter.BuildingOfficetel, filter.BuildingOneRoom},
		Deposit:          filter.Range{10000000},
		MonthlyRent:      filter.Range{300000, 800000},
	}
	raw, err := SearchURL("https://m.land.example/", flt)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if u.Path != "/search/list" || q.Get("buildingTypes") != "오피스텔,원룸" {
		t.Fatalf("url = %s", raw)
	}
	if q.Has("depositMin") || q.Get("depositMax") != "10000000" || q.Get("monthlyRentMin") != "300000" {
		t.Fatalf("ranges = %v", q)
	}
	if _, err := SearchURL("not a url", flt); err == nil {
		t.Fatal("expected error for relative base url")
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12억 5,000", 1_250_000_000},
		{"5억", 500_000_000},
		{"3억 5천", 350_000_000},
		{"9,500", 95_000_000},
		{"5억~6억", 500_000_000},
		{"1,000/50", 10_000_000},
		{"", 0},
		{"가격문의", 0},
	}
	for _, tt := range tests {
		if got := ParsePrice(tt.in); got != tt.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := map[string]string{
		"확인매물 24.03.15.": "2024-03-15",
		"확인매물 25.12.01":  "2025-12-01",
		"":               "",
		"확인매물 24.13.40.": "",
	}
	for in, want := range tests {
		if got := ParseDate(in); got != want {
			t.Errorf("ParseDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in        string
		pyeong    float64
		floor     string
		direction string
	}{
		{"109/84.77㎡, 12/25층, 남향", 25.64, "12/25층", "남향"},
		{"59.9㎡, 3/5층", 0, "3/5층", ""},
		{"", 0, "", ""},
	}
	for _, tt := range tests {
		p, f, d := ParseSpec(tt.in)
		if p != tt.pyeong || f != tt.floor || d != tt.direction {
			t.Errorf("ParseSpec(%q) = %v, %q, %q", tt.in, p, f, d)
		}
	}
}
