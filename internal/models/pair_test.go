package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func snapshot(z float64) *CandidateSnapshot {
	return &CandidateSnapshot{
		LongTicker:   "AAA",
		ShortTicker:  "BBB",
		Correlation:  0.9,
		LatestZScore: z,
		History:      []ZScorePoint{{ZScore: z, Spread: 1.5, Mean: 0.1, Std: 0.5}},
	}
}

func TestNewPair(t *testing.T) {
	p := NewPair(snapshot(2.5))

	if p.Status != PairStatusSelected {
		t.Errorf("статус = %s, ожидался SELECTED", p.Status)
	}
	if p.PairName != "AAA/BBB" {
		t.Errorf("pairName = %s", p.PairName)
	}
	if p.EntryZScore != 2.5 || p.CurrentZScore != 2.5 {
		t.Errorf("z: entry=%f current=%f", p.EntryZScore, p.CurrentZScore)
	}
	if p.UUID.String() == "" {
		t.Error("uuid не присвоен")
	}
}

func TestPair_ExtremaMonotonic(t *testing.T) {
	p := NewPair(snapshot(2.5))
	p.ApplyEntrySnapshot(snapshot(2.5), 100, 200)

	p.ApplyCurrentSnapshot(snapshot(3.0))
	if p.MaxZ != 3.0 || p.MinZ != 2.5 {
		t.Errorf("после роста: max=%f min=%f", p.MaxZ, p.MinZ)
	}

	p.ApplyCurrentSnapshot(snapshot(1.0))
	if p.MaxZ != 3.0 {
		t.Errorf("max сжался: %f", p.MaxZ)
	}
	if p.MinZ != 1.0 {
		t.Errorf("min = %f, ожидался 1.0", p.MinZ)
	}

	// возврат в середину диапазона не трогает экстремумы
	p.ApplyCurrentSnapshot(snapshot(2.0))
	if p.MaxZ != 3.0 || p.MinZ != 1.0 {
		t.Errorf("экстремумы сжались: max=%f min=%f", p.MaxZ, p.MinZ)
	}
}

func TestPair_EntryModelImmutable(t *testing.T) {
	entry := snapshot(2.5)
	entry.History = []ZScorePoint{{ZScore: 2.5, Spread: 1.5, Mean: 0.1, Std: 0.5, Alpha: 0.3, Beta: 1.2}}

	p := NewPair(entry)
	p.ApplyEntrySnapshot(entry, 100, 200)

	// модель спреда в следующем цикле пересчиталась
	next := snapshot(1.8)
	next.History = []ZScorePoint{{ZScore: 1.8, Spread: 0.9, Mean: 0.7, Std: 0.9, Alpha: 0.8, Beta: 2.0}}
	p.ApplyCurrentSnapshot(next)

	if p.EntryMean != 0.1 || p.EntryStd != 0.5 {
		t.Errorf("параметры входа перезаписаны: mean=%f std=%f", p.EntryMean, p.EntryStd)
	}
	if p.EntryAlpha != 0.3 || p.EntryBeta != 1.2 {
		t.Errorf("модель входа перезаписана: alpha=%f beta=%f", p.EntryAlpha, p.EntryBeta)
	}
	if p.CurrentZScore != 1.8 || p.CurrentSpread != 0.9 {
		t.Errorf("текущий снимок не обновился: z=%f spread=%f", p.CurrentZScore, p.CurrentSpread)
	}
}

func TestPair_UpdateLegChanges(t *testing.T) {
	p := NewPair(snapshot(2.5))
	p.ApplyEntrySnapshot(snapshot(2.5), 100, 200)

	p.UpdateLegChanges(110, 190)
	if p.LongPercentChange != 10 {
		t.Errorf("longChange = %f, ожидалось 10", p.LongPercentChange)
	}
	if p.ShortPercentChange != -5 {
		t.Errorf("shortChange = %f, ожидалось -5", p.ShortPercentChange)
	}
	if p.MaxLongPercent != 10 || p.MinShortPercent != -5 {
		t.Errorf("экстремумы: maxLong=%f minShort=%f", p.MaxLongPercent, p.MinShortPercent)
	}
}

func TestPair_UpdateProfit(t *testing.T) {
	p := NewPair(snapshot(2.5))

	p.UpdateProfit(decimal.NewFromInt(5), 2.5)
	p.UpdateProfit(decimal.NewFromInt(-3), -1.5)

	if p.MaxProfitPercent != 2.5 {
		t.Errorf("maxProfit = %f", p.MaxProfitPercent)
	}
	if p.MinProfitPercent != -1.5 {
		t.Errorf("minProfit = %f", p.MinProfitPercent)
	}
	if !p.ProfitUSDT.Equal(decimal.NewFromInt(-3)) {
		t.Errorf("profitUSDT = %s", p.ProfitUSDT)
	}
}

func TestPair_TimeInTrade(t *testing.T) {
	p := &Pair{}
	if p.TimeInTrade() != 0 {
		t.Error("без входа время в сделке 0")
	}

	p.EntryTime = time.Now().Add(-time.Hour)
	if d := p.TimeInTrade(); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("timeInTrade = %v", d)
	}
}

func TestSettings_Validate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("дефолтные настройки должны быть валидны: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"нулевой лимит свечей", func(s *Settings) { s.CandleLimit = 0 }},
		{"корреляция больше 1", func(s *Settings) { s.MinCorrelation = 1.5 }},
		{"p-value вне диапазона", func(s *Settings) { s.MaxPValue = 2 }},
		{"нулевое плечо", func(s *Settings) { s.Leverage = 0 }},
		{"отрицательное число пар", func(s *Settings) { s.UsePairs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("ожидалась ошибка валидации")
			}
		})
	}
}

func TestSettings_BlacklistedTickers(t *testing.T) {
	s := DefaultSettings()
	s.TickerBlacklist = "btc, eth ,SOL"

	got := s.BlacklistedTickers()
	for _, ticker := range []string{"BTC", "ETH", "SOL"} {
		if !got[ticker] {
			t.Errorf("тикер %s должен быть в черном списке: %v", ticker, got)
		}
	}
}
