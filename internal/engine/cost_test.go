package engine

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		in    int
		out   int
		want  float64
	}{
		{"gpt-4o", "gpt-4o", 1_000_000, 1_000_000, 12.50},
		{"mini", "gpt-4o-mini", 1_000_000, 0, 0.15},
		{"unknown model falls back", "custom-finetune", 1_000_000, 1_000_000, 0.75},
		{"zero usage", "gpt-4o", 0, 0, 0},
		{"partial", "gpt-4o", 100_000, 10_000, 0.35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.model, tt.in, tt.out)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost(%s, %d, %d) = %f, want %f", tt.model, tt.in, tt.out, got, tt.want)
			}
		})
	}
}
