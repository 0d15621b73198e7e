package utils

import "math"

// math.go - статистические утилиты для анализа спредов
//
// Все функции чистые, без побочных эффектов.

// Mean возвращает среднее арифметическое.
// Для пустого среза возвращает 0.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MeanIgnoringZeros возвращает среднее, пропуская точные нули.
// Нулевое значение ADF p-value означает "тест не считался",
// а не идеальную стационарность.
func MeanIgnoringZeros(values []float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v != 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// StdDev возвращает выборочное стандартное отклонение (n-1).
// Для среза короче 2 возвращает 0.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// PercentChange возвращает процентное изменение от base к current.
// Если base <= 0, возвращает 0.
func PercentChange(base, current float64) float64 {
	if base <= 0 {
		return 0
	}
	return (current - base) / base * 100
}

// Clamp ограничивает value диапазоном [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// RoundTo округляет value до decimals знаков после запятой.
func RoundTo(value float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(value*pow) / pow
}
