package store

import "testing"

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative", -0.5, 0},
		{"zero", 0, 0},
		{"in range", 0.73, 0.73},
		{"one", 1, 1},
		{"above one", 1.8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := clampConfidence(tt.in); got != tt.want {
				t.Errorf("clampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
