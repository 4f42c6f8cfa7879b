package latency

import (
	"math"
	"testing"
)

func TestJitter(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"successive deltas", []float64{20, 22, 19, 25, 21}, 3.75},
		{"constant", []float64{10, 10, 10}, 0},
		{"two samples", []float64{5, 9}, 4},
		{"single sample", []float64{12}, 0},
		{"no samples", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jitter(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jitter(%v) = %v, want %v", tt.samples, got, tt.want)
			}
		})
	}
}

func TestJitterIsNotStandardDeviation(t *testing.T) {
	// Alternating samples: stddev is 1 but successive deltas are all 2.
	if got := Jitter([]float64{1, 3, 1, 3}); got != 2 {
		t.Errorf("Jitter = %v, want 2", got)
	}
	// Order matters: the same values sorted give a smaller jitter.
	if got := Jitter([]float64{1, 1, 3, 3}); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("Jitter(sorted) = %v, want 0.667", got)
	}
}

func TestPacketLoss(t *testing.T) {
	tests := []struct {
		name           string
		sent, received int
		want           float64
	}{
		{"three lost of ten", 10, 7, 30},
		{"none lost", 5, 5, 0},
		{"all lost", 4, 0, 100},
		{"nothing sent", 0, 0, 0},
		{"duplicates clamp to zero", 3, 5, 0},
		{"negative received clamps to hundred", 2, -1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PacketLoss(tt.sent, tt.received); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PacketLoss(%d, %d) = %v, want %v", tt.sent, tt.received, got, tt.want)
			}
		})
	}
}
