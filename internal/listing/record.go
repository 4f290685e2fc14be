// Package listing defines the property record produced by the scraper and
// cached, paged and recommended by the pipeline.
package listing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
)

// MaxPerFetch bounds the records a single fetch may return.
const MaxPerFetch = 50

// Fetcher scrapes the listings matching a filter. Implementations return
// at most MaxPerFetch records.
type Fetcher interface {
	Fetch(ctx context.Context, f filter.Filter) ([]Record, error)
}

// Record is one crawled property.
type Record struct {
	Address         string                 `json:"address"`
	OwnerName       string                 `json:"owner_name"`
	TransactionType filter.TransactionType `json:"transaction_type"`
	Price           int64                  `json:"price"`
	BuildingType    filter.BuildingType    `json:"building_type"`
	AreaPyeong      float64                `json:"area_size"`
	FloorInfo       string                 `json:"floor_info"`
	Direction       string                 `json:"direction"`
	Tags            []string               `json:"tags"`
	UpdatedDate     string                 `json:"updated_date"`
	DetailURL       string                 `json:"detail_url,omitempty"`
}

// Validate rejects negative amounts and categorical values outside the
// closed vocabularies.
func (r Record) Validate() error {
	var errs []error
	if r.Price < 0 {
		errs = append(errs, fmt.Errorf("price %d is negative", r.Price))
	}
	if r.AreaPyeong < 0 {
		errs = append(errs, fmt.Errorf("area %.2f is negative", r.AreaPyeong))
	}
	if !slices.Contains(filter.TransactionTypes, r.TransactionType) {
		errs = append(errs, fmt.Errorf("unknown transaction type %q", r.TransactionType))
	}
	if !slices.Contains(filter.BuildingTypes, r.BuildingType) {
		errs = append(errs, fmt.Errorf("unknown building type %q", r.BuildingType))
	}
	return errors.Join(errs...)
}

// Page is one page of a cached result batch.
type Page struct {
	Records     []Record `json:"results"`
	TotalCount  int      `json:"total_count"`
	CurrentPage int      `json:"current_page"`
	TotalPages  int      `json:"total_pages"`
	HasNext     bool     `json:"has_next"`
	HasPrevious bool     `json:"has_previous"`
}

// Paginate slices records into pages of size. Out-of-range page numbers
// clamp to the first or last page; an empty batch yields one empty page.
func Paginate(records []Record, page, size int) Page {
	if size <= 0 {
		size = 30
	}
	total := len(records)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page = min(max(page, 1), pages)
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return Page{
		Records:     records[start:end],
		TotalCount:  total,
		CurrentPage: page,
		TotalPages:  pages,
		HasNext:     page < pages,
		HasPrevious: page > 1,
	}
}
