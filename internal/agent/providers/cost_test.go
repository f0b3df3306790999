package providers

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	tests := []struct {
		model  string
		in     int
		out    int
		want   float64
		wantOK bool
	}{
		{"claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 18, true},
		{"claude-opus-4-6", 1_000_000, 1_000_000, 90, true},
		{"gemini-2.5-flash", 2_000_000, 0, 0.6, true},
		{"gpt-4o-mini", 0, 1_000_000, 0.6, true},
		{"anthropic:claude-haiku-4-5-20251001", 1_000_000, 0, 1, true},
		{"llama3", 1000, 1000, 0, false},
	}
	for _, tt := range tests {
		got, ok := Cost(tt.model, tt.in, tt.out)
		if ok != tt.wantOK || math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Cost(%q) = %v, %v; want %v, %v", tt.model, got, ok, tt.want, tt.wantOK)
		}
	}
}
