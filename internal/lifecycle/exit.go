package lifecycle

import (
	"math"
	"time"

	"statarbitrage/internal/models"
)

// breakevenCloseThreshold - порог профита, при падении к которому
// взведенный безубыток закрывает сделку (%). Небольшой запас над нулем,
// чтобы закрытие прошло до ухода в минус.
const breakevenCloseThreshold = 0.1

// ExitRule - одно правило выхода из сделки.
// Правила чистые: смотрят на настройки и пару, ничего не мутируют.
type ExitRule struct {
	Reason    string
	Enabled   func(models.Settings) bool
	Triggered func(models.Settings, *models.Pair) bool
}

// ExitRules возвращает правила выхода в порядке приоритета.
// Порядок фиксирован, побеждает первое сработавшее включенное правило:
// фиксация профита раньше стопа, детерминированные причины важнее
// времени жизни.
func ExitRules() []ExitRule {
	return []ExitRule{
		{
			Reason:  models.ExitReasonTake,
			Enabled: func(s models.Settings) bool { return s.UseExitTake },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				return p.ProfitPercent >= s.ExitTake
			},
		},
		{
			Reason:  models.ExitReasonStop,
			Enabled: func(s models.Settings) bool { return s.UseExitStop },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				// ExitStop хранится отрицательным
				return p.ProfitPercent <= s.ExitStop
			},
		},
		{
			Reason:  models.ExitReasonZMin,
			Enabled: func(s models.Settings) bool { return s.UseExitZMin },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				// Спред вернулся к среднему и сделка не в минусе.
				// Возврат с убытком обрабатывает NEGATIVE_Z_MIN_PROFIT.
				return math.Abs(p.CurrentZScore) <= s.ExitZMin && p.ProfitPercent >= 0
			},
		},
		{
			Reason:  models.ExitReasonZMax,
			Enabled: func(s models.Settings) bool { return s.UseExitZMax },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				// Спред разошелся дальше: тезис о коинтеграции сломан
				return math.Abs(p.CurrentZScore) >= s.ExitZMax
			},
		},
		{
			Reason:  models.ExitReasonZMaxPercent,
			Enabled: func(s models.Settings) bool { return s.UseExitZMaxPercent },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				entry := math.Abs(p.EntryZScore)
				if entry == 0 {
					return false
				}
				growth := (math.Abs(p.CurrentZScore) - entry) / entry * 100
				return growth >= s.ExitZMaxPercent
			},
		},
		{
			Reason:  models.ExitReasonTime,
			Enabled: func(s models.Settings) bool { return s.UseExitTimeMinutes },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				if s.ExitTimeMinutes <= 0 {
					return false
				}
				maxAge := time.Duration(s.ExitTimeMinutes * float64(time.Minute))
				return p.TimeInTrade() >= maxAge
			},
		},
		{
			Reason:  models.ExitReasonBreakeven,
			Enabled: func(s models.Settings) bool { return s.UseExitBreakEvenPercent },
			Triggered: func(_ models.Settings, p *models.Pair) bool {
				return p.CloseAtBreakeven && p.ProfitPercent <= breakevenCloseThreshold
			},
		},
		{
			Reason:  models.ExitReasonNegativeZMinProfit,
			Enabled: func(s models.Settings) bool { return s.UseExitNegativeZMinProfitPercent },
			Triggered: func(s models.Settings, p *models.Pair) bool {
				// Спред вернулся, но сделка в минусе: фиксируем
				// ограниченный убыток по отработавшему тезису
				return math.Abs(p.CurrentZScore) <= s.ExitZMin &&
					p.ProfitPercent <= -math.Abs(s.ExitNegativeZMinProfitPercent)
			},
		},
	}
}

// ArmBreakeven взводит безубыток, когда профит впервые достиг порога.
// Возвращает true, если флаг только что взведен и его надо сохранить.
func ArmBreakeven(s models.Settings, p *models.Pair) bool {
	if !s.UseExitBreakEvenPercent || p.CloseAtBreakeven {
		return false
	}
	if p.ProfitPercent >= s.ExitBreakEvenPercent {
		p.CloseAtBreakeven = true
		return true
	}
	return false
}

// EvaluateExit прогоняет правила по порядку и возвращает причину выхода
// или "" если ни одно включенное правило не сработало.
func EvaluateExit(rules []ExitRule, s models.Settings, p *models.Pair) string {
	for _, r := range rules {
		if !r.Enabled(s) {
			continue
		}
		if r.Triggered(s, p) {
			return r.Reason
		}
	}
	return ""
}
