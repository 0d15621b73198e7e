package utils

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"пустой срез", nil, 0},
		{"одно значение", []float64{5}, 5},
		{"несколько значений", []float64{1, 2, 3, 4}, 2.5},
		{"отрицательные", []float64{-2, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.values); !almostEqual(got, tt.want) {
				t.Errorf("Mean(%v) = %f, ожидалось %f", tt.values, got, tt.want)
			}
		})
	}
}

func TestMeanIgnoringZeros(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"нули пропускаются", []float64{0, 2, 0, 4}, 3},
		{"все нули", []float64{0, 0, 0}, 0},
		{"без нулей", []float64{1, 2, 3}, 2},
		{"пустой срез", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeanIgnoringZeros(tt.values); !almostEqual(got, tt.want) {
				t.Errorf("MeanIgnoringZeros(%v) = %f, ожидалось %f", tt.values, got, tt.want)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	// выборочное отклонение (n-1): для {2,4,4,4,5,5,7,9} это ~2.138
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if got < 2.13 || got > 2.15 {
		t.Errorf("StdDev = %f, ожидалось ~2.138", got)
	}

	if StdDev([]float64{5}) != 0 {
		t.Error("для одного значения отклонение 0")
	}
	if StdDev(nil) != 0 {
		t.Error("для пустого среза отклонение 0")
	}
	if StdDev([]float64{3, 3, 3}) != 0 {
		t.Error("для константного ряда отклонение 0")
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		base, current, want float64
	}{
		{100, 110, 10},
		{100, 90, -10},
		{0, 50, 0},  // деление на ноль исключено
		{-5, 10, 0}, // отрицательная база
	}
	for _, tt := range tests {
		if got := PercentChange(tt.base, tt.current); !almostEqual(got, tt.want) {
			t.Errorf("PercentChange(%f, %f) = %f, ожидалось %f", tt.base, tt.current, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 1); got != 1 {
		t.Errorf("Clamp(5, 0, 1) = %f", got)
	}
	if got := Clamp(-5, 0, 1); got != 0 {
		t.Errorf("Clamp(-5, 0, 1) = %f", got)
	}
	if got := Clamp(0.5, 0, 1); got != 0.5 {
		t.Errorf("Clamp(0.5, 0, 1) = %f", got)
	}
}

func TestRoundTo(t *testing.T) {
	if got := RoundTo(3.14159, 2); !almostEqual(got, 3.14) {
		t.Errorf("RoundTo(3.14159, 2) = %f", got)
	}
	if got := RoundTo(2.675, 0); !almostEqual(got, 3) {
		t.Errorf("RoundTo(2.675, 0) = %f", got)
	}
	if got := RoundTo(-1.005, 1); !almostEqual(got, -1.0) {
		t.Errorf("RoundTo(-1.005, 1) = %f", got)
	}
}
