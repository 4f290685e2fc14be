package listing

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
)

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{OwnerName: "x", TransactionType: filter.TransactionSale, BuildingType: filter.BuildingApartment}
	}
	return out
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name               string
		n, page            int
		wantLen, wantPage  int
		wantPages          int
		wantNext, wantPrev bool
	}{
		{"first page", 50, 1, 30, 1, 2, true, false},
		{"last page", 50, 2, 20, 2, 2, false, true},
		{"page past end clamps", 50, 9, 20, 2, 2, false, true},
		{"page zero clamps", 50, 0, 30, 1, 2, true, false},
		{"empty batch", 0, 3, 0, 1, 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(records(tt.n), tt.page, 30)
			if len(p.Records) != tt.wantLen || p.CurrentPage != tt.wantPage || p.TotalPages != tt.wantPages {
				t.Errorf("got len=%d page=%d pages=%d", len(p.Records), p.CurrentPage, p.TotalPages)
			}
			if p.HasNext != tt.wantNext || p.HasPrevious != tt.wantPrev {
				t.Errorf("next=%v prev=%v", p.HasNext, p.HasPrevious)
			}
			if p.TotalCount != tt.n {
				t.Errorf("total = %d", p.TotalCount)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	ok := records(1)[0]
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	bad := ok
	bad.Price = -5
	bad.BuildingType = "궁전"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error")
	}
}
