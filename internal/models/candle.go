package models

// Candle представляет одну свечу OHLCV.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // unix millis открытия
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ClosePrices возвращает цены закрытия серии свечей.
func ClosePrices(candles []Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}
