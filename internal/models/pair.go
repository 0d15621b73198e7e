package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============ Статусы пары ============

const (
	PairStatusSelected = "SELECTED" // прошла скрининг, ждет промоушена
	PairStatusObserved = "OBSERVED" // под наблюдением, без позиций
	PairStatusTrading  = "TRADING"  // обе ноги открыты
	PairStatusClosed   = "CLOSED"   // закрыта штатно
	PairStatusError    = "ERROR"    // закрыта по ошибке брокера/данных
)

// ============ Причины выхода ============

const (
	ExitReasonTake               = "TAKE"
	ExitReasonStop               = "STOP"
	ExitReasonZMin               = "Z_MIN"
	ExitReasonZMax               = "Z_MAX"
	ExitReasonZMaxPercent        = "Z_MAX_PERCENT"
	ExitReasonTime               = "TIME"
	ExitReasonBreakeven          = "BREAKEVEN"
	ExitReasonNegativeZMinProfit = "NEGATIVE_Z_MIN_PROFIT"
	ExitReasonManual             = "MANUAL"
)

var (
	ErrInvalidSettings = errors.New("некорректные настройки")
	ErrPairNotFound    = errors.New("пара не найдена")
)

// Pair представляет торгуемую пару тикеров на всем жизненном цикле:
// от кандидата после скрининга до закрытой сделки. Поля входа (Entry*)
// фиксируются один раз при открытии, текущие (Current*) перезаписываются
// каждым циклом обновления, экстремумы (Max*/Min*) только расширяются.
type Pair struct {
	ID       int64     `json:"id" db:"id"`
	UUID     uuid.UUID `json:"uuid" db:"uuid"`
	TickerA  string    `json:"ticker_a" db:"ticker_a"` // недооцененный, лонг-нога
	TickerB  string    `json:"ticker_b" db:"ticker_b"` // переоцененный, шорт-нога
	PairName string    `json:"pair_name" db:"pair_name"`
	Status   string    `json:"status" db:"status"`

	// Снимок статистики на момент входа
	EntryZScore      float64 `json:"entry_z_score" db:"entry_z_score"`
	EntryCorrelation float64 `json:"entry_correlation" db:"entry_correlation"`
	EntryAdfPValue   float64 `json:"entry_adf_p_value" db:"entry_adf_p_value"`
	EntryPValue      float64 `json:"entry_p_value" db:"entry_p_value"`
	EntryRSquared    float64 `json:"entry_r_squared" db:"entry_r_squared"`
	EntrySpread      float64 `json:"entry_spread" db:"entry_spread"`
	EntryMean        float64 `json:"entry_mean" db:"entry_mean"`
	EntryStd         float64 `json:"entry_std" db:"entry_std"`
	EntryAlpha       float64 `json:"entry_alpha" db:"entry_alpha"`
	EntryBeta        float64 `json:"entry_beta" db:"entry_beta"`
	EntryPriceA      float64 `json:"entry_price_a" db:"entry_price_a"`
	EntryPriceB      float64 `json:"entry_price_b" db:"entry_price_b"`

	// Текущий снимок, обновляется каждый цикл
	CurrentZScore      float64 `json:"current_z_score" db:"current_z_score"`
	CurrentCorrelation float64 `json:"current_correlation" db:"current_correlation"`
	CurrentAdfPValue   float64 `json:"current_adf_p_value" db:"current_adf_p_value"`
	CurrentPValue      float64 `json:"current_p_value" db:"current_p_value"`
	CurrentRSquared    float64 `json:"current_r_squared" db:"current_r_squared"`
	CurrentSpread      float64 `json:"current_spread" db:"current_spread"`
	CurrentPriceA      float64 `json:"current_price_a" db:"current_price_a"`
	CurrentPriceB      float64 `json:"current_price_b" db:"current_price_b"`

	// Экстремумы за время жизни сделки
	MaxZ              float64 `json:"max_z" db:"max_z"`
	MinZ              float64 `json:"min_z" db:"min_z"`
	MaxCorrelation    float64 `json:"max_correlation" db:"max_correlation"`
	MinCorrelation    float64 `json:"min_correlation" db:"min_correlation"`
	MaxLongPercent    float64 `json:"max_long_percent" db:"max_long_percent"`
	MinLongPercent    float64 `json:"min_long_percent" db:"min_long_percent"`
	MaxShortPercent   float64 `json:"max_short_percent" db:"max_short_percent"`
	MinShortPercent   float64 `json:"min_short_percent" db:"min_short_percent"`
	MaxProfitPercent  float64 `json:"max_profit_percent" db:"max_profit_percent"`
	MinProfitPercent  float64 `json:"min_profit_percent" db:"min_profit_percent"`

	// Изменения ног и результат
	LongPercentChange  float64         `json:"long_percent_change" db:"long_percent_change"`
	ShortPercentChange float64         `json:"short_percent_change" db:"short_percent_change"`
	ProfitUSDT         decimal.Decimal `json:"profit_usdt" db:"profit_usdt"`
	ProfitPercent      float64         `json:"profit_percent" db:"profit_percent"`
	PortfolioBefore    decimal.Decimal `json:"portfolio_before" db:"portfolio_before"`

	LongPositionID  string `json:"long_position_id" db:"long_position_id"`
	ShortPositionID string `json:"short_position_id" db:"short_position_id"`

	Score            float64 `json:"score" db:"score"`
	ExitReason       string  `json:"exit_reason" db:"exit_reason"`
	ErrorDescription string  `json:"error_description" db:"error_description"`
	CloseAtBreakeven bool    `json:"close_at_breakeven" db:"close_at_breakeven"`
	AveragingCount   int     `json:"averaging_count" db:"averaging_count"`

	EntryTime   time.Time `json:"entry_time" db:"entry_time"`
	UpdatedTime time.Time `json:"updated_time" db:"updated_time"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewPair создает кандидата в статусе SELECTED из результата скрининга.
func NewPair(c *CandidateSnapshot) *Pair {
	now := time.Now()
	p := &Pair{
		UUID:      uuid.New(),
		TickerA:   c.LongTicker,
		TickerB:   c.ShortTicker,
		PairName:  fmt.Sprintf("%s/%s", c.LongTicker, c.ShortTicker),
		Status:    PairStatusSelected,
		Score:     c.Score,
		CreatedAt: now,
	}
	p.applySnapshot(c)
	p.fixEntryModel(c)
	p.EntryZScore = p.CurrentZScore
	p.EntryCorrelation = p.CurrentCorrelation
	p.EntryAdfPValue = p.CurrentAdfPValue
	p.EntryPValue = p.CurrentPValue
	p.EntryRSquared = p.CurrentRSquared
	p.EntrySpread = p.CurrentSpread
	p.UpdatedTime = now
	return p
}

// ApplyEntrySnapshot фиксирует снимок входа при промоушене в TRADING.
func (p *Pair) ApplyEntrySnapshot(c *CandidateSnapshot, priceA, priceB float64) {
	p.applySnapshot(c)
	p.fixEntryModel(c)
	p.EntryZScore = p.CurrentZScore
	p.EntryCorrelation = p.CurrentCorrelation
	p.EntryAdfPValue = p.CurrentAdfPValue
	p.EntryPValue = p.CurrentPValue
	p.EntryRSquared = p.CurrentRSquared
	p.EntrySpread = p.CurrentSpread
	p.EntryPriceA = priceA
	p.EntryPriceB = priceB
	p.CurrentPriceA = priceA
	p.CurrentPriceB = priceB
	p.MaxZ = p.CurrentZScore
	p.MinZ = p.CurrentZScore
	p.MaxCorrelation = p.CurrentCorrelation
	p.MinCorrelation = p.CurrentCorrelation
	p.EntryTime = time.Now()
	p.UpdatedTime = p.EntryTime
}

// ApplyCurrentSnapshot обновляет текущий снимок и расширяет экстремумы.
func (p *Pair) ApplyCurrentSnapshot(c *CandidateSnapshot) {
	p.applySnapshot(c)
	if p.CurrentZScore > p.MaxZ {
		p.MaxZ = p.CurrentZScore
	}
	if p.CurrentZScore < p.MinZ {
		p.MinZ = p.CurrentZScore
	}
	if p.CurrentCorrelation > p.MaxCorrelation {
		p.MaxCorrelation = p.CurrentCorrelation
	}
	if p.CurrentCorrelation < p.MinCorrelation {
		p.MinCorrelation = p.CurrentCorrelation
	}
	p.UpdatedTime = time.Now()
}

func (p *Pair) applySnapshot(c *CandidateSnapshot) {
	p.CurrentZScore = c.LatestZScore
	p.CurrentCorrelation = c.Correlation
	p.CurrentPValue = c.CorrelationPValue
	p.CurrentAdfPValue = c.AvgAdfPValue
	p.CurrentRSquared = c.AvgRSquared
	if last := c.LastPoint(); last != nil {
		p.CurrentSpread = last.Spread
		p.CurrentAdfPValue = last.AdfPValue
		p.CurrentRSquared = last.RSquared
	}
}

// fixEntryModel фиксирует параметры модели спреда на момент входа.
// Пишется только из NewPair и ApplyEntrySnapshot: Entry-поля после
// открытия сделки неприкосновенны.
func (p *Pair) fixEntryModel(c *CandidateSnapshot) {
	if last := c.LastPoint(); last != nil {
		p.EntryMean = last.Mean
		p.EntryStd = last.Std
		p.EntryAlpha = last.Alpha
		p.EntryBeta = last.Beta
	}
}

// UpdateLegChanges пересчитывает изменения ног и экстремумы % за сделку.
func (p *Pair) UpdateLegChanges(priceA, priceB float64) {
	p.CurrentPriceA = priceA
	p.CurrentPriceB = priceB
	if p.EntryPriceA > 0 {
		p.LongPercentChange = (priceA - p.EntryPriceA) / p.EntryPriceA * 100
	}
	if p.EntryPriceB > 0 {
		p.ShortPercentChange = (priceB - p.EntryPriceB) / p.EntryPriceB * 100
	}
	if p.LongPercentChange > p.MaxLongPercent {
		p.MaxLongPercent = p.LongPercentChange
	}
	if p.LongPercentChange < p.MinLongPercent {
		p.MinLongPercent = p.LongPercentChange
	}
	if p.ShortPercentChange > p.MaxShortPercent {
		p.MaxShortPercent = p.ShortPercentChange
	}
	if p.ShortPercentChange < p.MinShortPercent {
		p.MinShortPercent = p.ShortPercentChange
	}
}

// UpdateProfit обновляет результат сделки и экстремумы профита.
func (p *Pair) UpdateProfit(usdt decimal.Decimal, percent float64) {
	p.ProfitUSDT = usdt
	p.ProfitPercent = percent
	if percent > p.MaxProfitPercent {
		p.MaxProfitPercent = percent
	}
	if percent < p.MinProfitPercent {
		p.MinProfitPercent = percent
	}
}

// TimeInTrade возвращает время жизни сделки.
func (p *Pair) TimeInTrade() time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return time.Since(p.EntryTime)
}

// IsActive сообщает, находится ли пара в нетерминальном статусе.
func (p *Pair) IsActive() bool {
	return p.Status == PairStatusSelected || p.Status == PairStatusTrading || p.Status == PairStatusObserved
}
