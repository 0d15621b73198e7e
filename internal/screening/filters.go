package screening

import (
	"fmt"
	"math"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/utils"
)

// ============ Причины отклонения ============

const (
	RejectDataMissing        = "DATA_MISSING"
	RejectAdfPValue          = "ADF_P_VALUE"
	RejectRSquared           = "R_SQUARED"
	RejectStability          = "STABILITY"
	RejectCorrelationPValue  = "CORRELATION_P_VALUE"
	RejectCorrelation        = "CORRELATION"
	RejectZScore             = "Z_SCORE"
	RejectExtremeZ           = "EXTREME_Z"
	RejectUnstableZ          = "UNSTABLE_Z"
)

// Фиксированные пороги защитных проверок. Не настройки: в отличие от
// порогов фильтров, их никто не тюнит между запусками.
const (
	// stabilityMinSamples - минимум точек истории для проверки стабильности
	stabilityMinSamples = 100
	// stabilityMinRatio - минимальная доля стабильных окон
	stabilityMinRatio = 0.70
	// extremeZThreshold - |Z| выше считается статистическим выбросом
	extremeZThreshold = 5.0
	// zVolatilityMaxStdDev - максимальный разброс последних значений Z
	zVolatilityMaxStdDev = 1.5
	// zVolatilitySamples - сколько последних Z участвует в проверке разброса
	zVolatilitySamples = 10
)

// Filter проверяет кандидата против настроек.
// Возвращает причину отклонения или "" если кандидат проходит.
// Фильтры чистые: не мутируют ни кандидата, ни настройки.
type Filter struct {
	Name    string
	Enabled func(models.Settings) bool
	Check   func(models.Settings, *models.CandidateSnapshot) string
}

func alwaysOn(models.Settings) bool { return true }

// Filters возвращает упорядоченный список фильтров пайплайна.
// Порядок фиксирован: дешевые проверки и проверки качества данных раньше,
// защитные проверки выбросов последними. Выключенный фильтр пропускается.
func Filters() []Filter {
	return []Filter{
		{
			Name:    RejectDataMissing,
			Enabled: alwaysOn,
			Check: func(_ models.Settings, c *models.CandidateSnapshot) string {
				if !c.HasData() {
					if c.Error != "" {
						return fmt.Sprintf("%s: %s", RejectDataMissing, c.Error)
					}
					return RejectDataMissing
				}
				return ""
			},
		},
		{
			Name:    RejectAdfPValue,
			Enabled: func(s models.Settings) bool { return s.UseMaxAdfValueFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				// Низкое p-value = спред стационарен, пара коинтегрирована.
				adf := c.AvgAdfPValue
				if last := c.LastPoint(); last != nil && last.AdfPValue != 0 {
					adf = last.AdfPValue
				}
				if adf > s.MaxAdfValue {
					return RejectAdfPValue
				}
				return ""
			},
		},
		{
			Name:    RejectRSquared,
			Enabled: func(s models.Settings) bool { return s.UseMinRSquaredFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				r2 := c.AvgRSquared
				if last := c.LastPoint(); last != nil && last.RSquared != 0 {
					r2 = last.RSquared
				}
				if r2 < s.MinRSquared {
					return RejectRSquared
				}
				return ""
			},
		},
		{
			Name:    RejectStability,
			Enabled: func(s models.Settings) bool { return s.UseCointegrationStabilityFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				// Короткая история - проверка не проводится, решают
				// остальные фильтры
				if len(c.History) < stabilityMinSamples {
					return ""
				}
				ok, _ := StableCointegration(c.History, s.MinWindowSize, s.MaxAdfValue)
				if !ok {
					return RejectStability
				}
				return ""
			},
		},
		{
			Name:    RejectCorrelationPValue,
			Enabled: func(s models.Settings) bool { return s.UseMaxPValueFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				if c.CorrelationPValue > s.MaxPValue {
					return RejectCorrelationPValue
				}
				return ""
			},
		},
		{
			Name:    RejectCorrelation,
			Enabled: func(s models.Settings) bool { return s.UseMinCorrelationFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				// По модулю: сильная отрицательная корреляция тоже торгуема.
				if math.Abs(c.Correlation) < s.MinCorrelation {
					return RejectCorrelation
				}
				return ""
			},
		},
		{
			Name:    RejectZScore,
			Enabled: func(s models.Settings) bool { return s.UseMinZFilter },
			Check: func(s models.Settings, c *models.CandidateSnapshot) string {
				if math.Abs(c.LatestZScore) < s.MinZ {
					return RejectZScore
				}
				return ""
			},
		},
		{
			Name:    RejectExtremeZ,
			Enabled: alwaysOn,
			Check: func(_ models.Settings, c *models.CandidateSnapshot) string {
				// Экстремальный Z означает разрыв коинтеграции, не возможность.
				if math.Abs(c.LatestZScore) > extremeZThreshold {
					return RejectExtremeZ
				}
				if recent := c.RecentZScores(zVolatilitySamples); len(recent) >= zVolatilitySamples {
					// отклоняется только превышение порога, ровно порог проходит
					if utils.StdDev(recent) > zVolatilityMaxStdDev {
						return RejectUnstableZ
					}
				}
				return ""
			},
		},
	}
}

// ApplyFilters прогоняет кандидата через упорядоченный список фильтров.
// Возвращает причину первого сработавшего отклонения или "".
func ApplyFilters(filters []Filter, s models.Settings, c *models.CandidateSnapshot) string {
	for _, f := range filters {
		if !f.Enabled(s) {
			continue
		}
		if reason := f.Check(s, c); reason != "" {
			return reason
		}
	}
	return ""
}

// StableCointegration проверяет устойчивость коинтеграции по истории.
// История режется на перекрывающиеся окна размера windowSize с шагом в
// полокна; окно стабильно, если средний ADF p-value (нули игнорируются,
// это "тест не считался") ниже maxAdfValue. Требуется минимум
// stabilityMinSamples точек и доля стабильных окон >= stabilityMinRatio.
// Возвращает вердикт и фактическую долю стабильных окон. На короткой
// истории вердикт false с нулевой долей; фильтр стабильности такую
// историю не спрашивает вовсе, скоринг трактует долю как нулевую.
func StableCointegration(history []models.ZScorePoint, windowSize int, maxAdfValue float64) (bool, float64) {
	if len(history) < stabilityMinSamples || windowSize <= 0 || len(history) < windowSize {
		return false, 0
	}

	adf := make([]float64, len(history))
	for i, p := range history {
		adf[i] = p.AdfPValue
	}

	var total, stable int
	for i := windowSize; i <= len(adf); i += windowSize / 2 {
		window := adf[i-windowSize : i]
		total++
		if m := utils.MeanIgnoringZeros(window); m != 0 && m < maxAdfValue {
			stable++
		}
	}
	if total == 0 {
		return false, 0
	}

	ratio := float64(stable) / float64(total)
	return ratio >= stabilityMinRatio, ratio
}
