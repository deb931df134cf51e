package utils

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================
// Тесты округления
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		lotSize float64
		want    float64
	}{
		{"round down", 0.123456, 0.001, 0.123},
		{"no change needed", 0.5, 0.1, 0.5},
		{"whole lot", 100.5, 1.0, 100.0},
		{"zero lot size returns input", 0.123456, 0, 0.123456},
		{"negative lot size returns input", 0.123456, -1, 0.123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToLotSize(tt.value, tt.lotSize); !almostEqual(got, tt.want) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v", tt.value, tt.lotSize, got, tt.want)
			}
		})
	}
}

// ============================================================
// Тесты BlendAvgPrice
// ============================================================

func TestBlendAvgPrice(t *testing.T) {
	tests := []struct {
		name      string
		qty       float64
		avg       float64
		delta     float64
		fillPrice float64
		want      float64
	}{
		{"first fill into flat position", 0, 0, 0.5, 100, 100},
		{"equal blend", 0.5, 100, 0.5, 102, 101},
		{"short position uses absolute qty", -0.5, 100, 0.5, 102, 101},
		{"zero delta keeps avg", 0.5, 100, 0, 999, 100},
		{"negative delta keeps avg", 0.5, 100, -0.1, 999, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BlendAvgPrice(tt.qty, tt.avg, tt.delta, tt.fillPrice)
			if !almostEqual(got, tt.want) {
				t.Errorf("BlendAvgPrice(%v, %v, %v, %v) = %v, want %v",
					tt.qty, tt.avg, tt.delta, tt.fillPrice, got, tt.want)
			}
		})
	}
}

// ============================================================
// Тесты CalculateWeightedAverage
// ============================================================

func TestCalculateWeightedAverage(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		weights []float64
		want    float64
	}{
		{"simple vwap", []float64{100, 101, 102}, []float64{10, 20, 10}, 101},
		{"single value", []float64{50}, []float64{1}, 50},
		{"empty input", nil, nil, 0},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0},
		{"zero weights", []float64{1, 2}, []float64{0, 0}, 0},
		{"negative weights skipped", []float64{100, 200}, []float64{-5, 10}, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateWeightedAverage(tt.values, tt.weights)
			if !almostEqual(got, tt.want) {
				t.Errorf("CalculateWeightedAverage = %v, want %v", got, tt.want)
			}
		})
	}
}
