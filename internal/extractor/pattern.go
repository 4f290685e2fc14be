package extractor

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
)

type province struct {
	name    string
	aliases []string
}

// Longer aliases first so "서울특별시" wins over "서울".
var provinces = []province{
	{"서울시", []string{"서울특별시", "서울시", "서울"}},
	{"부산시", []string{"부산광역시", "부산시", "부산"}},
	{"대구시", []string{"대구광역시", "대구시", "대구"}},
	{"인천시", []string{"인천광역시", "인천시", "인천"}},
	{"광주시", []string{"광주광역시", "광주시", "광주"}},
	{"대전시", []string{"대전광역시", "대전시", "대전"}},
	{"울산시", []string{"울산광역시", "울산시", "울산"}},
	{"세종시", []string{"세종특별자치시", "세종시", "세종"}},
	{"경기도", []string{"경기도", "경기"}},
	{"강원도", []string{"강원특별자치도", "강원도", "강원"}},
	{"충청북도", []string{"충청북도", "충북"}},
	{"충청남도", []string{"충청남도", "충남"}},
	{"전라북도", []string{"전북특별자치도", "전라북도", "전북"}},
	{"전라남도", []string{"전라남도", "전남"}},
	{"경상북도", []string{"경상북도", "경북"}},
	{"경상남도", []string{"경상남도", "경남"}},
	{"제주도", []string{"제주특별자치도", "제주도", "제주"}},
}

// Well-known districts searched without their province.
var knownDistricts = []struct {
	stem, address string
}{
	{"강남", "서울시 강남구"},
	{"서초", "서울시 서초구"},
	{"송파", "서울시 송파구"},
	{"마포", "서울시 마포구"},
	{"성동", "서울시 성동구"},
	{"용산", "서울시 용산구"},
	{"영등포", "서울시 영등포구"},
	{"은평", "서울시 은평구"},
	{"노원", "서울시 노원구"},
	{"해운대", "부산시 해운대구"},
	{"수원", "경기도 수원시"},
	{"분당", "경기도 성남시"},
	{"일산", "경기도 고양시"},
}

var transactionAliases = []struct {
	alias string
	value filter.TransactionType
}{
	{"단기임대", filter.TransactionShortTerm},
	{"단기", filter.TransactionShortTerm},
	{"매매", filter.TransactionSale},
	{"전세", filter.TransactionJeonse},
	{"월세", filter.TransactionMonthlyRent},
}

// Ordered so compound names match before their parts ("아파트분양권"
// before "아파트", "상가주택" before "상가").
var buildingAliases = []struct {
	alias string
	value filter.BuildingType
}{
	{"아파트분양권", filter.BuildingApartmentPresale},
	{"오피스텔분양권", filter.BuildingOfficetelPresale},
	{"지식산업센터", filter.BuildingKnowledgeIndustry},
	{"단독/다가구", filter.BuildingDetached},
	{"공장/창고", filter.BuildingFactory},
	{"상가주택", filter.BuildingShopHouse},
	{"한옥주택", filter.BuildingHanok},
	{"전원주택", filter.BuildingCountryHouse},
	{"단독주택", filter.BuildingDetached},
	{"재건축", filter.BuildingReconstruction},
	{"재개발", filter.BuildingRedevelopment},
	{"오피스텔", filter.BuildingOfficetel},
	{"아파트", filter.BuildingApartment},
	{"다세대", filter.BuildingVilla},
	{"빌라", filter.BuildingVilla},
	{"원룸", filter.BuildingOneRoom},
	{"다가구", filter.BuildingDetached},
	{"상가", filter.BuildingShop},
	{"사무실", filter.BuildingOffice},
	{"공장", filter.BuildingFactory},
	{"창고", filter.BuildingFactory},
	{"한옥", filter.BuildingHanok},
	{"건물", filter.BuildingWhole},
	{"토지", filter.BuildingLand},
}

var (
	districtRe = regexp.MustCompile(`^[가-힣]{1,5}?(?:시|군|구)`)
	amountRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*억(?:\s*(\d+)\s*천)?(?:\s*만)?(?:\s*원)?|(\d[\d,]*)\s*천\s*만?\s*원?|(\d[\d,]*)\s*만\s*원?`)
	pyeongRe   = regexp.MustCompile(`(\d+)\s*평`)
)

type priceField int

const (
	fieldNone priceField = iota
	fieldSale
	fieldDeposit
	fieldRent
)

// Keywords that assign the amounts following them to a price field.
var priceKeywords = []struct {
	word  string
	field priceField
}{
	{"보증금", fieldDeposit},
	{"전세", fieldDeposit},
	{"월세", fieldRent},
	{"월", fieldRent},
	{"매매", fieldSale},
}

// PatternExtractor recognizes provinces, districts, the closed type
// vocabularies, won amounts and pyeong sizes without calling a model. It
// never defaults a required field: a query without an address or type is
// an ExtractionError exactly as with the LLM.
type PatternExtractor struct{}

func NewPattern() *PatternExtractor {
	return &PatternExtractor{}
}

func (p *PatternExtractor) Extract(_ context.Context, query string) (filter.Filter, error) {
	q := norm.NFC.String(strings.TrimSpace(query))

	f := filter.Filter{
		Address:          extractAddress(q),
		TransactionTypes: extractTransactionTypes(q),
		BuildingTypes:    extractBuildingTypes(q),
		AreaBand:         extractAreaBand(q),
	}
	f.SalePrice, f.Deposit, f.MonthlyRent = extractPrices(q, f.TransactionTypes)

	if err := f.Validate(); err != nil {
		return filter.Filter{}, apperrors.Extraction("could not understand the query, please rephrase", err)
	}
	return f.Normalize(), nil
}

func extractAddress(q string) string {
	tokens := strings.Fields(q)
	for i, tok := range tokens {
		prov, rest, ok := matchProvince(tok)
		if !ok {
			continue
		}
		if d := districtRe.FindString(rest); d != "" {
			return prov + " " + d
		}
		if i+1 < len(tokens) {
			if d := districtRe.FindString(tokens[i+1]); d != "" {
				return prov + " " + d
			}
		}
		// Province only; validation reports the missing district.
		return prov
	}
	for _, d := range knownDistricts {
		if strings.Contains(q, d.stem) {
			return d.address
		}
	}
	return ""
}

func matchProvince(tok string) (name, rest string, ok bool) {
	for _, p := range provinces {
		for _, alias := range p.aliases {
			if after, found := strings.CutPrefix(tok, alias); found {
				return p.name, after, true
			}
		}
	}
	return "", "", false
}

func extractTransactionTypes(q string) []filter.TransactionType {
	var out []filter.TransactionType
	work := q
	for _, a := range transactionAliases {
		if strings.Contains(work, a.alias) {
			if !slices.Contains(out, a.value) {
				out = append(out, a.value)
			}
			work = strings.ReplaceAll(work, a.alias, " ")
		}
	}
	return out
}

func extractBuildingTypes(q string) []filter.BuildingType {
	var out []filter.BuildingType
	work := q
	for _, a := range buildingAliases {
		if strings.Contains(work, a.alias) {
			if !slices.Contains(out, a.value) {
				out = append(out, a.value)
			}
			work = strings.ReplaceAll(work, a.alias, " ")
		}
	}
	return out
}

func extractAreaBand(q string) filter.AreaBand {
	m := pyeongRe.FindStringSubmatch(q)
	if m == nil {
		return ""
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	switch {
	case n < 10:
		return filter.AreaUnder10
	case n >= 70:
		return filter.Area70Plus
	default:
		return filter.AreaBands[n/10]
	}
}

// extractPrices assigns each won amount to the price field named closest
// before it. An amount with no keyword in front continues the previous
// field ("5억~10억"), or falls back to the field implied by the first
// transaction type.
func extractPrices(q string, types []filter.TransactionType) (sale, deposit, rent filter.Range) {
	values := map[priceField][]int64{}
	current := fieldNone
	prev := 0
	for _, loc := range amountRe.FindAllStringSubmatchIndex(q, -1) {
		amount, ok := parseAmount(q, loc)
		if !ok {
			continue
		}
		if f := lastKeyword(q[prev:loc[0]]); f != fieldNone {
			current = f
		}
		if current == fieldNone {
			current = defaultPriceField(types)
		}
		values[current] = append(values[current], amount)
		prev = loc[1]
	}
	return toRange(values[fieldSale]), toRange(values[fieldDeposit]), toRange(values[fieldRent])
}

func parseAmount(q string, loc []int) (int64, bool) {
	group := func(i int) string {
		if loc[2*i] < 0 {
			return ""
		}
		return strings.ReplaceAll(q[loc[2*i]:loc[2*i+1]], ",", "")
	}
	switch {
	case group(1) != "":
		eok, err := strconv.ParseFloat(group(1), 64)
		if err != nil {
			return 0, false
		}
		total := int64(math.Round(eok * 1e8))
		if cheon := group(2); cheon != "" {
			n, err := strconv.ParseInt(cheon, 10, 64)
			if err != nil {
				return 0, false
			}
			total += n * 10_000_000
		}
		return total, true
	case group(3) != "":
		n, err := strconv.ParseInt(group(3), 10, 64)
		return n * 10_000_000, err == nil
	case group(4) != "":
		n, err := strconv.ParseInt(group(4), 10, 64)
		return n * 10_000, err == nil
	}
	return 0, false
}

func lastKeyword(segment string) priceField {
	best, bestAt := fieldNone, -1
	for _, k := range priceKeywords {
		if i := strings.LastIndex(segment, k.word); i > bestAt {
			best, bestAt = k.field, i
		}
	}
	return best
}

func defaultPriceField(types []filter.TransactionType) priceField {
	if len(types) == 0 || types[0] == filter.TransactionSale {
		return fieldSale
	}
	return fieldDeposit
}

func toRange(vs []int64) filter.Range {
	switch len(vs) {
	case 0:
		return nil
	case 1:
		return filter.Range{vs[0]}
	default:
		return filter.Range{slices.Min(vs), slices.Max(vs)}
	}
}
