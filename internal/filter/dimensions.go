package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Dimension is a scored facet of a Filter.
type Dimension string

const (
	DimAddress         Dimension = "address"
	DimTransactionType Dimension = "transaction_type"
	DimBuildingType    Dimension = "building_type"
	DimPrice           Dimension = "price"
	DimArea            Dimension = "area"
)

// Dimensions lists every scored dimension. The first three are required to
// compose a recommendation filter.
var Dimensions = []Dimension{DimAddress, DimTransactionType, DimBuildingType, DimPrice, DimArea}

// Required reports whether a recommendation cannot be built without a
// value for d.
func (d Dimension) Required() bool {
	return d == DimAddress || d == DimTransactionType || d == DimBuildingType
}

// ParseDimension validates a dimension name read back from storage.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

const (
	priceSale        = "sale_price"
	priceDeposit     = "deposit"
	priceMonthlyRent = "monthly_rent"
)

// Values returns the distinct scoreable values of f per dimension. Price
// ranges are encoded as "<kind>:<min>-<max>" (or "<kind>:<max>") so one
// dimension can carry all three amount kinds.
func (f Filter) Values() map[Dimension][]string {
	n := f.Normalize()
	out := make(map[Dimension][]string)
	if n.Address != "" {
		out[DimAddress] = []string{n.Address}
	}
	for _, t := range n.TransactionTypes {
		out[DimTransactionType] = append(out[DimTransactionType], string(t))
	}
	for _, b := range n.BuildingTypes {
		out[DimBuildingType] = append(out[DimBuildingType], string(b))
	}
	for _, p := range []struct {
		kind string
		r    Range
	}{{priceSale, n.SalePrice}, {priceDeposit, n.Deposit}, {priceMonthlyRent, n.MonthlyRent}} {
		if len(p.r) > 0 {
			out[DimPrice] = append(out[DimPrice], p.kind+":"+p.r.String())
		}
	}
	if n.AreaBand != "" {
		out[DimArea] = []string{string(n.AreaBand)}
	}
	return out
}

// FromTopValues composes a Filter from one value per dimension. Missing
// optional dimensions stay unset; a missing required dimension is an error.
func FromTopValues(values map[Dimension]string) (Filter, error) {
	for _, d := range Dimensions {
		if d.Required() && values[d] == "" {
			return Filter{}, fmt.Errorf("missing required dimension %s", d)
		}
	}
	f := Filter{
		Address:          values[DimAddress],
		TransactionTypes: []TransactionType{TransactionType(values[DimTransactionType])},
		BuildingTypes:    []BuildingType{BuildingType(values[DimBuildingType])},
		AreaBand:         AreaBand(values[DimArea]),
	}
	if v := values[DimPrice]; v != "" {
		kind, r, err := parsePriceValue(v)
		if err != nil {
			return Filter{}, err
		}
		switch kind {
		case priceSale:
			f.SalePrice = r
		case priceDeposit:
			f.Deposit = r
		case priceMonthlyRent:
			f.MonthlyRent = r
		}
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parsePriceValue(v string) (string, Range, error) {
	kind, bounds, ok := strings.Cut(v, ":")
	if !ok {
		return "", nil, fmt.Errorf("malformed price value %q", v)
	}
	switch kind {
	case priceSale, priceDeposit, priceMonthlyRent:
	default:
		return "", nil, fmt.Errorf("unknown price kind %q", kind)
	}
	var r Range
	for _, part := range strings.Split(bounds, "-") {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("malformed price value %q: %w", v, err)
		}
		r = append(r, n)
	}
	return kind, r, nil
}
