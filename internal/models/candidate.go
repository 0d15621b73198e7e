package models

import "fmt"

// ZScorePoint представляет одну точку истории статистики спреда.
type ZScorePoint struct {
	Timestamp   int64   `json:"timestamp"`
	ZScore      float64 `json:"zscore"`
	AdfPValue   float64 `json:"adf_p_value"`
	RSquared    float64 `json:"r_squared"`
	Spread      float64 `json:"spread"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Correlation float64 `json:"correlation"`
}

// CandidateSnapshot представляет результат статистического анализа одной
// пары тикеров: итоги коинтеграционных тестов плюс полная история точек.
// Лонг-нога — недооцененный тикер, шорт-нога — переоцененный.
type CandidateSnapshot struct {
	LongTicker  string `json:"long_ticker"`
	ShortTicker string `json:"short_ticker"`

	Correlation       float64 `json:"correlation"`
	CorrelationPValue float64 `json:"correlation_p_value"`
	Cointegrated      bool    `json:"cointegrated"`
	CointPValue       float64 `json:"coint_p_value"`
	LatestZScore      float64 `json:"latest_z_score"`
	AvgRSquared       float64 `json:"avg_r_squared"`
	AvgAdfPValue      float64 `json:"avg_adf_p_value"`

	// Тест Йохансена может отсутствовать в ответе движка статистики
	JohansenPValue      *float64 `json:"johansen_p_value,omitempty"`
	JohansenTraceStat   *float64 `json:"johansen_trace_stat,omitempty"`
	JohansenCritValue95 *float64 `json:"johansen_crit_value_95,omitempty"`

	// Визуальное расхождение ног в пикселях нормализованного графика
	AvgPixelSpread float64 `json:"avg_pixel_spread"`
	MaxPixelSpread float64 `json:"max_pixel_spread"`

	History []ZScorePoint `json:"history"`

	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"` // ошибка анализа этой пары, батч не прерывает
}

// Name возвращает каноническое имя пары.
func (c *CandidateSnapshot) Name() string {
	return fmt.Sprintf("%s/%s", c.LongTicker, c.ShortTicker)
}

// LastPoint возвращает последнюю точку истории или nil.
func (c *CandidateSnapshot) LastPoint() *ZScorePoint {
	if len(c.History) == 0 {
		return nil
	}
	return &c.History[len(c.History)-1]
}

// RecentZScores возвращает последние n значений Z из истории.
func (c *CandidateSnapshot) RecentZScores(n int) []float64 {
	if n > len(c.History) {
		n = len(c.History)
	}
	result := make([]float64, 0, n)
	for _, p := range c.History[len(c.History)-n:] {
		result = append(result, p.ZScore)
	}
	return result
}

// HasData сообщает, пришли ли от движка статистики минимально необходимые данные.
func (c *CandidateSnapshot) HasData() bool {
	return c.Error == "" && len(c.History) > 0
}

// FilterStats агрегирует итоги прогона фильтров по батчу кандидатов.
type FilterStats struct {
	Total      int            `json:"total"`
	Passed     int            `json:"passed"`
	Rejected   int            `json:"rejected"`
	ByReason   map[string]int `json:"by_reason"`
	PassedPct  float64        `json:"passed_pct"`
}

// NewFilterStats создает пустую статистику фильтров.
func NewFilterStats() *FilterStats {
	return &FilterStats{ByReason: make(map[string]int)}
}

// Reject учитывает отклонение кандидата по причине reason.
func (fs *FilterStats) Reject(reason string) {
	fs.Total++
	fs.Rejected++
	fs.ByReason[reason]++
	fs.recalc()
}

// Pass учитывает прохождение кандидата через все фильтры.
func (fs *FilterStats) Pass() {
	fs.Total++
	fs.Passed++
	fs.recalc()
}

func (fs *FilterStats) recalc() {
	if fs.Total > 0 {
		fs.PassedPct = float64(fs.Passed) / float64(fs.Total) * 100
	}
}
