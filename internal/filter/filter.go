// Package filter defines the structured search criteria extracted from a
// natural-language property query, the closed vocabularies its categorical
// fields draw from, and the validation every Filter must pass before any
// cache lookup or scrape.
package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TransactionType is the kind of deal a listing offers.
type TransactionType string

const (
	TransactionSale        TransactionType = "매매"
	TransactionJeonse      TransactionType = "전세"
	TransactionMonthlyRent TransactionType = "월세"
	TransactionShortTerm   TransactionType = "단기임대"
)

// TransactionTypes lists every valid TransactionType.
var TransactionTypes = []TransactionType{
	TransactionSale, TransactionJeonse, TransactionMonthlyRent, TransactionShortTerm,
}

// BuildingType is a listing category as the listing site names it.
type BuildingType string

const (
	BuildingApartment         BuildingType = "아파트"
	BuildingOfficetel         BuildingType = "오피스텔"
	BuildingVilla             BuildingType = "빌라"
	BuildingApartmentPresale  BuildingType = "아파트분양권"
	BuildingOfficetelPresale  BuildingType = "오피스텔분양권"
	BuildingReconstruction    BuildingType = "재건축"
	BuildingCountryHouse      BuildingType = "전원주택"
	BuildingDetached          BuildingType = "단독/다가구"
	BuildingShopHouse         BuildingType = "상가주택"
	BuildingHanok             BuildingType = "한옥주택"
	BuildingRedevelopment     BuildingType = "재개발"
	BuildingOneRoom           BuildingType = "원룸"
	BuildingShop              BuildingType = "상가"
	BuildingOffice            BuildingType = "사무실"
	BuildingFactory           BuildingType = "공장/창고"
	BuildingWhole             BuildingType = "건물"
	BuildingLand              BuildingType = "토지"
	BuildingKnowledgeIndustry BuildingType = "지식산업센터"
)

// BuildingTypes lists every valid BuildingType.
var BuildingTypes = []BuildingType{
	BuildingApartment, BuildingOfficetel, BuildingVilla, BuildingApartmentPresale,
	BuildingOfficetelPresale, BuildingReconstruction, BuildingCountryHouse,
	BuildingDetached, BuildingShopHouse, BuildingHanok, BuildingRedevelopment,
	BuildingOneRoom, BuildingShop, BuildingOffice, BuildingFactory, BuildingWhole,
	BuildingLand, BuildingKnowledgeIndustry,
}

// AreaBand is a floor-area bucket in pyeong.
type AreaBand string

const (
	AreaUnder10 AreaBand = "~ 10평"
	Area10s     AreaBand = "10평대"
	Area20s     AreaBand = "20평대"
	Area30s     AreaBand = "30평대"
	Area40s     AreaBand = "40평대"
	Area50s     AreaBand = "50평대"
	Area60s     AreaBand = "60평대"
	Area70Plus  AreaBand = "70평 ~"
)

// AreaBands lists every valid AreaBand, smallest first.
var AreaBands = []AreaBand{
	AreaUnder10, Area10s, Area20s, Area30s, Area40s, Area50s, Area60s, Area70Plus,
}

// Range is an amount bound in won: [max] or [min, max]. A nil Range is
// unset.
type Range []int64

// Min returns the lower bound, 0 for a single-element range.
func (r Range) Min() int64 {
	if len(r) == 2 {
		return r[0]
	}
	return 0
}

// Max returns the upper bound.
func (r Range) Max() int64 {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

func (r Range) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, "-")
}

func (r Range) validate() string {
	if len(r) == 0 || len(r) > 2 {
		return "must have 1 or 2 elements"
	}
	for _, v := range r {
		if v < 0 {
			return "values must be non-negative"
		}
	}
	if len(r) == 2 && r[0] > r[1] {
		return "minimum must not exceed maximum"
	}
	return ""
}

// Filter is the structured form of one search query. JSON field names
// follow the extraction contract of the LLM prompt.
type Filter struct {
	Address          string            `json:"address"`
	TransactionTypes []TransactionType `json:"transaction_type"`
	BuildingTypes    []BuildingType    `json:"building_type"`
	SalePrice        Range             `json:"sale_price,omitempty"`
	Deposit          Range             `json:"deposit,omitempty"`
	MonthlyRent      Range             `json:"monthly_rent,omitempty"`
	AreaBand         AreaBand          `json:"area_range,omitempty"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Validate checks every field. Required fields are never defaulted: a
// missing address or an empty type set is an error.
func (f Filter) Validate() error {
	errs := make(map[string]string)

	addr := strings.TrimSpace(f.Address)
	switch {
	case addr == "":
		errs["address"] = "address is required"
	case len(strings.Fields(addr)) < 2:
		errs["address"] = "address must name at least a province and a district"
	}

	if len(f.TransactionTypes) == 0 {
		errs["transaction_type"] = "at least one transaction type is required"
	}
	for _, t := range f.TransactionTypes {
		if !slices.Contains(TransactionTypes, t) {
			errs["transaction_type"] = fmt.Sprintf("unknown transaction type %q", t)
			break
		}
	}

	if len(f.BuildingTypes) == 0 {
		errs["building_type"] = "at least one building type is required"
	}
	for _, b := range f.BuildingTypes {
		if !slices.Contains(BuildingTypes, b) {
			errs["building_type"] = fmt.Sprintf("unknown building type %q", b)
			break
		}
	}

	for name, r := range map[string]Range{"sale_price": f.SalePrice, "deposit": f.Deposit, "monthly_rent": f.MonthlyRent} {
		if r == nil {
			continue
		}
		if msg := r.validate(); msg != "" {
			errs[name] = msg
		}
	}

	if f.AreaBand != "" && !slices.Contains(AreaBands, f.AreaBand) {
		errs["area_range"] = fmt.Sprintf("unknown area band %q", f.AreaBand)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Normalize returns a copy with the address NFC-normalized and
// whitespace-collapsed, and the type sets deduplicated and sorted. Two
// filters that mean the same thing normalize to identical values.
func (f Filter) Normalize() Filter {
	out := Filter{
		Address:          strings.Join(strings.Fields(norm.NFC.String(f.Address)), " "),
		TransactionTypes: sortedUnique(f.TransactionTypes),
		BuildingTypes:    sortedUnique(f.BuildingTypes),
		SalePrice:        slices.Clone(f.SalePrice),
		Deposit:          slices.Clone(f.Deposit),
		MonthlyRent:      slices.Clone(f.MonthlyRent),
		AreaBand:         AreaBand(norm.NFC.String(string(f.AreaBand))),
	}
	return out
}

func sortedUnique[T ~string](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, 0, len(in))
	for _, v := range in {
		v = T(norm.NFC.String(strings.TrimSpace(string(v))))
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
