// Package fetcher scrapes property listings matching a filter from the
// listing site's HTML result pages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

// maxPages bounds how many result pages one fetch follows.
const maxPages = 5

const (
	selItem         = "div.item_inner"
	selOwner        = "em.title_place"
	selTradeType    = "div.price_area > span.type"
	selPrice        = "div.price_area > strong.price"
	selBuildingType = "div.information_area p.info > strong.type"
	selSpec         = "div.information_area p.info > span.spec"
	selTag          = "div.tag_area > em.tag"
	selConfirmed    = "span.icon-badge.type-confirmed"
	selDetailLink   = "a.item_link"
	selNextPage     = "a.pagination_next"
)

// Fetcher is a colly-based listing.Fetcher.
type Fetcher struct {
	collector  *colly.Collector
	baseURL    string
	maxRecords int
	timeout    time.Duration
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// New builds a Fetcher for cfg. m may be nil.
func New(cfg config.FetcherConfig, m *metrics.Metrics) (*Fetcher, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fetcher: invalid base url %q: %w", cfg.BaseURL, err)
	}
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 || maxRecords > listing.MaxPerFetch {
		maxRecords = listing.MaxPerFetch
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	parallelism := max(cfg.Parallelism, 1)

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("fetcher: setting limit rule: %w", err)
	}

	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}
	if m != nil {
		breakerCfg.OnStateChange = m.ObserveBreaker()
	}

	return &Fetcher{
		collector:  c,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRecords: maxRecords,
		timeout:    timeout,
		breaker:    resilience.NewCircuitBreaker("listing-fetcher", breakerCfg),
		logger:     slog.Default().With("component", "listing-fetcher"),
	}, nil
}

// BreakerState reports the circuit state for health checks.
func (f *Fetcher) BreakerState() resilience.State {
	return f.breaker.GetState()
}

// Fetch scrapes up to maxRecords listings for flt. Network failures,
// non-2xx pages and timeouts are FetchErrors; an empty result page is not.
func (f *Fetcher) Fetch(ctx context.Context, flt filter.Filter) ([]listing.Record, error) {
	target, err := SearchURL(f.baseURL, flt)
	if err != nil {
		return nil, apperrors.Fetch("building listing url", err)
	}
	records, err := resilience.WithTimeoutValue(ctx, f.timeout, "listing fetch", func(ctx context.Context) ([]listing.Record, error) {
		return resilience.Call(f.breaker, func() ([]listing.Record, error) {
			return f.scrape(ctx, target, flt.Address)
		})
	})
	if err != nil {
		return nil, apperrors.Fetch("listing fetch failed, please try again", err)
	}
	return records, nil
}

func (f *Fetcher) scrape(ctx context.Context, target, address string) ([]listing.Record, error) {
	log := logger.FromContext(ctx).With("component", "listing-fetcher")
	start := time.Now()

	c := f.collector.Clone()
	extensions.RandomUserAgent(c)
	extensions.Referer(c)

	var (
		records  []listing.Record
		skipped  int
		pages    int
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		pages++
		log.Debug("requesting listing page", "url", r.URL.String(), "page", pages)
	})

	c.OnHTML(selItem, func(e *colly.HTMLElement) {
		if len(records) >= f.maxRecords {
			return
		}
		rec, ok := parseItem(e, address)
		if !ok {
			skipped++
			return
		}
		records = append(records, rec)
	})

	c.OnHTML(selNextPage, func(e *colly.HTMLElement) {
		if len(records) >= f.maxRecords || pages >= maxPages || ctx.Err() != nil {
			return
		}
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			log.Warn("following next page failed", "error", err)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		log.Error("listing page request failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
		if fetchErr == nil {
			fetchErr = fmt.Errorf("request to %s failed with status %d: %w", r.Request.URL, r.StatusCode, err)
		}
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("visiting %s: %w", target, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A failure after some records were collected still fails the fetch;
	// partial batches are never returned.
	if fetchErr != nil {
		return nil, fetchErr
	}
	if records == nil {
		records = []listing.Record{}
	}

	log.Info("listings fetched",
		"address", address,
		"records", len(records),
		"skipped", skipped,
		"pages", pages,
		"duration", time.Since(start),
	)
	return records, nil
}

// parseItem maps one result item. Items without an owner name, and items
// whose types fall outside the known vocabularies, are dropped.
func parseItem(e *colly.HTMLElement, address string) (listing.Record, bool) {
	owner := strings.TrimSpace(e.ChildText(selOwner))
	if owner == "" {
		return listing.Record{}, false
	}
	pyeong, floor, direction := ParseSpec(e.ChildText(selSpec))

	var tags []string
	e.ForEach(selTag, func(_ int, el *colly.HTMLElement) {
		if t := strings.TrimSpace(el.Text); t != "" {
			tags = append(tags, t)
		}
	})
	if tags == nil {
		tags = []string{}
	}

	rec := listing.Record{
		Address:         address,
		OwnerName:       owner,
		TransactionType: filter.TransactionType(strings.TrimSpace(e.ChildText(selTradeType))),
		Price:           ParsePrice(e.ChildText(selPrice)),
		BuildingType:    filter.BuildingType(strings.TrimSpace(e.ChildText(selBuildingType))),
		AreaPyeong:      pyeong,
		FloorInfo:       floor,
		Direction:       direction,
		Tags:            tags,
		UpdatedDate:     ParseDate(e.ChildText(selConfirmed)),
	}
	if href := e.ChildAttr(selDetailLink, "href"); href != "" {
		rec.DetailURL = e.Request.AbsoluteURL(href)
	}
	if err := rec.Validate(); err != nil {
		return listing.Record{}, false
	}
	return rec, true
}

// SearchURL encodes flt as the query string of the listing search page.
func SearchURL(base string, flt filter.Filter) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("base url must be absolute")
	}
	u = u.JoinPath("search", "list")

	q := url.Values{}
	q.Set("address", flt.Address)
	q.Set("tradeTypes", joinValues(flt.TransactionTypes))
	q.Set("buildingTypes", joinValues(flt.BuildingTypes))
	setRange(q, "salePrice", flt.SalePrice)
	setRange(q, "deposit", flt.Deposit)
	setRange(q, "monthlyRent", flt.MonthlyRent)
	if flt.AreaBand != "" {
		q.Set("area", string(flt.AreaBand))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func joinValues[T ~string](vs []T) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func setRange(q url.Values, name string, r filter.Range) {
	if r == nil {
		return
	}
	if len(r) == 2 {
		q.Set(name+"Min", strconv.FormatInt(r.Min(), 10))
	}
	q.Set(name+"Max", strconv.FormatInt(r.Max(), 10))
}
