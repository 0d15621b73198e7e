package models

import (
	"strings"
	"time"
)

// Settings представляет настройки скрининга и торговли.
// Хранится одной строкой в БД, читается одним снимком в начале каждого цикла
// и передается по значению — посреди цикла настройки не меняются.
type Settings struct {
	ID int `json:"id" db:"id"`

	// Параметры рынка
	Timeframe   string `json:"timeframe" db:"timeframe"`       // 15m, 1h, 4h
	CandleLimit int    `json:"candle_limit" db:"candle_limit"` // размер окна свечей

	// Пороги фильтров скрининга
	MinZ           float64 `json:"min_z" db:"min_z"`                     // минимальный |Z| для входа
	MinWindowSize  int     `json:"min_window_size" db:"min_window_size"` // окно проверки стабильности
	MaxPValue      float64 `json:"max_p_value" db:"max_p_value"`         // значимость корреляции
	MaxAdfValue    float64 `json:"max_adf_value" db:"max_adf_value"`     // порог ADF p-value
	MinRSquared    float64 `json:"min_r_squared" db:"min_r_squared"`
	MinCorrelation float64 `json:"min_correlation" db:"min_correlation"`

	// Торговые параметры
	UsePairs           int     `json:"use_pairs" db:"use_pairs"` // целевое число активных пар
	Leverage           float64 `json:"leverage" db:"leverage"`
	MaxLongMarginSize  float64 `json:"max_long_margin_size" db:"max_long_margin_size"`   // маржа лонг-ноги, USDT
	MaxShortMarginSize float64 `json:"max_short_margin_size" db:"max_short_margin_size"` // маржа шорт-ноги, USDT
	AutoTradingEnabled bool    `json:"auto_trading_enabled" db:"auto_trading_enabled"`

	// Пороги стратегий выхода
	ExitTake                      float64 `json:"exit_take" db:"exit_take"` // % профита
	ExitStop                      float64 `json:"exit_stop" db:"exit_stop"` // % убытка, отрицательный
	ExitZMin                      float64 `json:"exit_z_min" db:"exit_z_min"`
	ExitZMax                      float64 `json:"exit_z_max" db:"exit_z_max"`
	ExitZMaxPercent               float64 `json:"exit_z_max_percent" db:"exit_z_max_percent"`
	ExitTimeMinutes               float64 `json:"exit_time_minutes" db:"exit_time_minutes"`
	ExitBreakEvenPercent          float64 `json:"exit_break_even_percent" db:"exit_break_even_percent"`
	ExitNegativeZMinProfitPercent float64 `json:"exit_negative_z_min_profit_percent" db:"exit_negative_z_min_profit_percent"`

	// Флаги фильтров: выключенный фильтр пропускается, пайплайн не прерывается
	UseMinZFilter                   bool `json:"use_min_z_filter" db:"use_min_z_filter"`
	UseMinRSquaredFilter            bool `json:"use_min_r_squared_filter" db:"use_min_r_squared_filter"`
	UseMaxPValueFilter              bool `json:"use_max_p_value_filter" db:"use_max_p_value_filter"`
	UseMaxAdfValueFilter            bool `json:"use_max_adf_value_filter" db:"use_max_adf_value_filter"`
	UseMinCorrelationFilter         bool `json:"use_min_correlation_filter" db:"use_min_correlation_filter"`
	UseCointegrationStabilityFilter bool `json:"use_cointegration_stability_filter" db:"use_cointegration_stability_filter"`

	// Флаги стратегий выхода
	UseExitTake                      bool `json:"use_exit_take" db:"use_exit_take"`
	UseExitStop                      bool `json:"use_exit_stop" db:"use_exit_stop"`
	UseExitZMin                      bool `json:"use_exit_z_min" db:"use_exit_z_min"`
	UseExitZMax                      bool `json:"use_exit_z_max" db:"use_exit_z_max"`
	UseExitZMaxPercent               bool `json:"use_exit_z_max_percent" db:"use_exit_z_max_percent"`
	UseExitTimeMinutes               bool `json:"use_exit_time_minutes" db:"use_exit_time_minutes"`
	UseExitBreakEvenPercent          bool `json:"use_exit_break_even_percent" db:"use_exit_break_even_percent"`
	UseExitNegativeZMinProfitPercent bool `json:"use_exit_negative_z_min_profit_percent" db:"use_exit_negative_z_min_profit_percent"`

	// Скоринг: шесть измерений, каждое со своим флагом и весом
	UseZScoreScoring           bool    `json:"use_z_score_scoring" db:"use_z_score_scoring"`
	UsePixelSpreadScoring      bool    `json:"use_pixel_spread_scoring" db:"use_pixel_spread_scoring"`
	UseCointegrationScoring    bool    `json:"use_cointegration_scoring" db:"use_cointegration_scoring"`
	UseModelQualityScoring     bool    `json:"use_model_quality_scoring" db:"use_model_quality_scoring"`
	UseStatisticsScoring       bool    `json:"use_statistics_scoring" db:"use_statistics_scoring"`
	UseBonusScoring            bool    `json:"use_bonus_scoring" db:"use_bonus_scoring"`
	ZScoreScoringWeight        float64 `json:"z_score_scoring_weight" db:"z_score_scoring_weight"`
	PixelSpreadScoringWeight   float64 `json:"pixel_spread_scoring_weight" db:"pixel_spread_scoring_weight"`
	CointegrationScoringWeight float64 `json:"cointegration_scoring_weight" db:"cointegration_scoring_weight"`
	ModelQualityScoringWeight  float64 `json:"model_quality_scoring_weight" db:"model_quality_scoring_weight"`
	StatisticsScoringWeight    float64 `json:"statistics_scoring_weight" db:"statistics_scoring_weight"`
	BonusScoringWeight         float64 `json:"bonus_scoring_weight" db:"bonus_scoring_weight"`

	// Автоусреднение
	AutoAveragingEnabled       bool    `json:"auto_averaging_enabled" db:"auto_averaging_enabled"`
	AveragingDrawdownThreshold float64 `json:"averaging_drawdown_threshold" db:"averaging_drawdown_threshold"` // % просадки
	AveragingVolumeMultiplier  float64 `json:"averaging_volume_multiplier" db:"averaging_volume_multiplier"`
	MaxAveragingCount          int     `json:"max_averaging_count" db:"max_averaging_count"`

	// Черный список тикеров, через запятую
	TickerBlacklist string `json:"ticker_blacklist" db:"ticker_blacklist"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BlacklistedTickers возвращает черный список как множество тикеров.
func (s Settings) BlacklistedTickers() map[string]bool {
	result := make(map[string]bool)
	for _, t := range strings.Split(s.TickerBlacklist, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			result[t] = true
		}
	}
	return result
}

// DefaultSettings возвращает настройки по умолчанию.
// Используются при создании строки settings, если её еще нет в БД.
func DefaultSettings() Settings {
	return Settings{
		ID:          1,
		Timeframe:   "15m",
		CandleLimit: 300,

		MinZ:           2.0,
		MinWindowSize:  100,
		MaxPValue:      0.05,
		MaxAdfValue:    0.05,
		MinRSquared:    0.8,
		MinCorrelation: 0.8,

		UsePairs:           3,
		Leverage:           10,
		MaxLongMarginSize:  50,
		MaxShortMarginSize: 50,

		ExitTake:                      2.0,
		ExitStop:                      -15.0,
		ExitZMin:                      0.3,
		ExitZMax:                      4.0,
		ExitZMaxPercent:               50.0,
		ExitTimeMinutes:               1440,
		ExitBreakEvenPercent:          1.0,
		ExitNegativeZMinProfitPercent: 0.5,

		UseMinZFilter:                   true,
		UseMinRSquaredFilter:            true,
		UseMaxPValueFilter:              true,
		UseMaxAdfValueFilter:            true,
		UseMinCorrelationFilter:         true,
		UseCointegrationStabilityFilter: true,

		UseExitTake:                      true,
		UseExitStop:                      true,
		UseExitZMin:                      true,
		UseExitZMax:                      true,
		UseExitZMaxPercent:               true,
		UseExitTimeMinutes:               true,
		UseExitBreakEvenPercent:          true,
		UseExitNegativeZMinProfitPercent: true,

		UseZScoreScoring:           true,
		UsePixelSpreadScoring:      true,
		UseCointegrationScoring:    true,
		UseModelQualityScoring:     true,
		UseStatisticsScoring:       true,
		UseBonusScoring:            true,
		ZScoreScoringWeight:        40.0,
		PixelSpreadScoringWeight:   25.0,
		CointegrationScoringWeight: 25.0,
		ModelQualityScoringWeight:  20.0,
		StatisticsScoringWeight:    10.0,
		BonusScoringWeight:         5.0,

		AveragingDrawdownThreshold: 5.0,
		AveragingVolumeMultiplier:  1.5,
		MaxAveragingCount:          3,
	}
}

// Validate проверяет согласованность настроек перед сохранением.
func (s Settings) Validate() error {
	if s.CandleLimit <= 0 {
		return ErrInvalidSettings
	}
	if s.MinZ < 0 || s.MinCorrelation < 0 || s.MinCorrelation > 1 {
		return ErrInvalidSettings
	}
	if s.MaxPValue <= 0 || s.MaxPValue > 1 || s.MaxAdfValue <= 0 || s.MaxAdfValue > 1 {
		return ErrInvalidSettings
	}
	if s.Leverage <= 0 || s.MaxLongMarginSize <= 0 || s.MaxShortMarginSize <= 0 {
		return ErrInvalidSettings
	}
	if s.UsePairs < 0 {
		return ErrInvalidSettings
	}
	if s.AveragingVolumeMultiplier < 0 || s.MaxAveragingCount < 0 {
		return ErrInvalidSettings
	}
	return nil
}
