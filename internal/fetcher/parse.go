package fetcher

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const squareMetersPerPyeong = 3.305785

// ParsePrice converts a listing price in the site's notation to won. The
// site prints amounts in units of 10,000 won: "12억 5,000" is 1.25 billion,
// "3억 5천" 350 million, "9,500" 95 million. Ranges ("5억~6억") and
// deposit/rent pairs ("1,000/50") keep their first amount. Unparseable
// text is 0.
func ParsePrice(s string) int64 {
	s = strings.TrimSpace(s)
	if before, _, ok := strings.Cut(s, "~"); ok {
		s = before
	}
	if before, _, ok := strings.Cut(s, "/"); ok {
		s = before
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}

	var eok, man int64
	rest := s
	if before, after, ok := strings.Cut(s, "억"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(before), 10, 64)
		if err != nil {
			return 0
		}
		eok, rest = n, after
	}
	rest = strings.TrimSpace(rest)
	if rest != "" {
		mult := int64(1)
		if r, ok := strings.CutSuffix(rest, "천"); ok {
			rest, mult = strings.TrimSpace(r), 1000
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return 0
		}
		man = n * mult
	}
	return (eok*10000 + man) * 10000
}

// ParseDate turns a confirmation badge ("확인매물 24.03.15.") into
// "2024-03-15". Anything else is "".
func ParseDate(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "확인매물", ""))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := time.Parse("20060102", "20"+s)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

// ParseSpec splits a spec line ("109/84.77㎡, 12/25층, 남향") into the
// exclusive area in pyeong rounded to two decimals, the floor text and the
// facing direction.
func ParseSpec(s string) (pyeong float64, floor, direction string) {
	if strings.TrimSpace(s) == "" {
		return 0, "", ""
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if area := parts[0]; strings.Contains(area, "/") && strings.Contains(area, "㎡") {
		_, exclusive, _ := strings.Cut(area, "/")
		exclusive = strings.TrimSpace(strings.ReplaceAll(exclusive, "㎡", ""))
		if m2, err := strconv.ParseFloat(exclusive, 64); err == nil {
			pyeong = math.Round(m2/squareMetersPerPyeong*100) / 100
		}
	}
	if len(parts) > 1 {
		floor = parts[1]
	}
	if len(parts) > 2 {
		direction = parts[2]
	}
	return pyeong, floor, direction
}
