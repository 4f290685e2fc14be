package extractor

import (
	"strings"
	"testing"
)

func TestDecodeFilter(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "integer prices",
			content: `{"address": "서울시 서초구", "transaction_type": ["전세"], "building_type": ["아파트"], "deposit": [300000000, 500000000]}`,
		},
		{
			name:    "fractional price",
			content: `{"address": "서울시 서초구", "transaction_type": ["전세"], "building_type": ["아파트"], "deposit": [3.5]}`,
			wantErr: "schema",
		},
		{
			name:    "trailing text",
			content: `{"address": "서울시 서초구", "transaction_type": ["전세"], "building_type": ["아파트"]} 이상입니다`,
			wantErr: "not JSON",
		},
		{
			name:    "model refusal",
			content: `{"error": "거래 유형이 없습니다"}`,
			wantErr: "rejected",
		},
		{
			name:    "empty",
			content: "   ",
			wantErr: "empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := decodeFilter(tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if f.Deposit.Min() != 300000000 || f.Deposit.Max() != 500000000 {
					t.Errorf("deposit = %v", f.Deposit)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
