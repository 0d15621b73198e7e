package screening

import (
	"math"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/utils"
)

// Скоринг кандидатов: шесть измерений, каждое со своим флагом и весом
// в настройках. Итоговый балл — сумма включенных измерений; кандидаты
// сортируются по убыванию балла.

// Пороги пиксельного спреда: визуальное расхождение ног на
// нормализованном графике в пикселях.
const (
	pixelSpreadSmall  = 20.0
	pixelSpreadMedium = 40.0
	pixelSpreadLarge  = 80.0
)

// Score считает итоговый балл кандидата и записывает его в снимок.
func Score(s models.Settings, c *models.CandidateSnapshot) float64 {
	var total float64
	if s.UseZScoreScoring {
		total += scoreZScore(c, s.ZScoreScoringWeight)
	}
	if s.UsePixelSpreadScoring {
		total += scorePixelSpread(c, s.PixelSpreadScoringWeight)
	}
	if s.UseCointegrationScoring {
		total += scoreCointegration(c, s.CointegrationScoringWeight)
	}
	if s.UseModelQualityScoring {
		total += scoreModelQuality(c, s, s.ModelQualityScoringWeight)
	}
	if s.UseStatisticsScoring {
		total += scoreStatistics(c, s, s.StatisticsScoringWeight)
	}
	if s.UseBonusScoring {
		total += scoreBonus(c, s.BonusScoringWeight)
	}
	c.Score = utils.RoundTo(total, 2)
	return c.Score
}

// scoreZScore: линейный рост до насыщения при |Z| = 5.
func scoreZScore(c *models.CandidateSnapshot, weight float64) float64 {
	return math.Min(math.Abs(c.LatestZScore)*(weight/5.0), weight)
}

// scorePixelSpread: ступенчатая оценка визуального расхождения ног.
func scorePixelSpread(c *models.CandidateSnapshot, weight float64) float64 {
	switch {
	case c.AvgPixelSpread >= pixelSpreadLarge:
		return weight
	case c.AvgPixelSpread >= pixelSpreadMedium:
		return weight * 2.0 / 3.0
	case c.AvgPixelSpread >= pixelSpreadSmall:
		return weight / 3.0
	default:
		return 0
	}
}

// scoreCointegration: сила коинтеграции как запас p-value до порога 0.05.
// Если движок вернул тест Йохансена, вес делится поровну между обоими
// тестами, иначе весь вес уходит на ADF.
func scoreCointegration(c *models.CandidateSnapshot, weight float64) float64 {
	adfStrength := pValueStrength(c.CointPValue)
	if c.JohansenPValue == nil {
		return weight * adfStrength
	}
	johansenStrength := pValueStrength(*c.JohansenPValue)
	return weight * (adfStrength + johansenStrength) / 2.0
}

// pValueStrength нормирует p-value в [0, 1]: 0 на пороге 0.05, 1 при p=0.
func pValueStrength(p float64) float64 {
	return utils.Clamp((0.05-p)/0.05, 0, 1)
}

// scoreModelQuality: качество регрессии (75%) + устойчивость коинтеграции (25%).
func scoreModelQuality(c *models.CandidateSnapshot, s models.Settings, weight float64) float64 {
	r2 := utils.Clamp(c.AvgRSquared, 0, 1)
	_, stabilityRatio := StableCointegration(c.History, s.MinWindowSize, s.MaxAdfValue)
	return r2*weight*0.75 + stabilityRatio*weight*0.25
}

// scoreStatistics: значимость корреляции (50%) + её сила по модулю (50%).
func scoreStatistics(c *models.CandidateSnapshot, s models.Settings, weight float64) float64 {
	maxP := s.MaxPValue
	if maxP <= 0 {
		maxP = 0.05
	}
	significance := utils.Clamp(1.0-c.CorrelationPValue/maxP, 0, 1)
	strength := utils.Clamp(math.Abs(c.Correlation), 0, 1)
	return significance*weight*0.5 + strength*weight*0.5
}

// scoreBonus: полнота данных анализа. Каждый присутствующий необязательный
// блок (Йохансен, пиксельный спред, длинная история) добавляет свою долю.
func scoreBonus(c *models.CandidateSnapshot, weight float64) float64 {
	var present, totalParts float64

	totalParts++
	if c.JohansenPValue != nil && c.JohansenTraceStat != nil {
		present++
	}
	totalParts++
	if c.AvgPixelSpread > 0 {
		present++
	}
	totalParts++
	if len(c.History) >= stabilityMinSamples {
		present++
	}

	return weight * present / totalParts
}
