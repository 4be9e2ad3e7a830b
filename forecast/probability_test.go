package forecast

import (
	"math"
	"testing"
)

func TestProbabilityOfIncreaseDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		yhat    float64
		want    float64
	}{
		{"above current", 100, 105, 1.0},
		{"below current", 100, 95, 0.0},
		{"equal to current", 100, 100, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProbabilityOfIncrease(tt.current, tt.yhat, tt.yhat, tt.yhat)
			if got != tt.want {
				t.Errorf("ProbabilityOfIncrease(%v, %v) = %v, want exactly %v", tt.current, tt.yhat, got, tt.want)
			}
		})
	}
}

func TestProbabilityOfIncreaseNormal(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		yhat    float64
		lower   float64
		upper   float64
		want    float64
	}{
		{"centered", 100, 100, 90, 110, 0.5},
		{"one sigma above", 100, 110, 90.4, 129.6, 0.8413},
		{"one sigma below", 100, 90, 70.4, 109.6, 0.1587},
		{"current at upper bound", 119.6, 100, 80.4, 119.6, 0.025},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProbabilityOfIncrease(tt.current, tt.yhat, tt.lower, tt.upper)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("got %v, want ~%v", got, tt.want)
			}
		})
	}
}

func TestProbabilityOfIncreaseMonotonic(t *testing.T) {
	prev := -1.0
	for yhat := 80.0; yhat <= 120.0; yhat += 0.25 {
		p := ProbabilityOfIncrease(100, yhat, 95, 105)
		if p < prev {
			t.Fatalf("probability decreased at yhat=%v: %v < %v", yhat, p, prev)
		}
		if p < 0 || p > 1 {
			t.Fatalf("probability %v outside [0, 1] at yhat=%v", p, yhat)
		}
		prev = p
	}
}

func TestProbabilityOfIncreaseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		yhat  float64
		lower float64
		upper float64
		want  float64
	}{
		{"inverted interval", 105, 110, 100, 1.0},
		{"NaN bound", 105, math.NaN(), 110, 1.0},
		{"NaN yhat", math.NaN(), 90, 110, 0.0},
		{"subnormal width", 95, 95, 95 + 5e-324, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProbabilityOfIncrease(100, tt.yhat, tt.lower, tt.upper)
			if math.IsNaN(got) {
				t.Fatal("probability must never be NaN")
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
