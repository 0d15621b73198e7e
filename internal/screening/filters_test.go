package screening

import (
	"strings"
	"testing"

	"statarbitrage/internal/models"
)

// makeHistory строит историю с одинаковым ADF p-value
func makeHistory(n int, adf float64) []models.ZScorePoint {
	points := make([]models.ZScorePoint, n)
	for i := range points {
		points[i] = models.ZScorePoint{
			Timestamp: int64(i),
			ZScore:    2.0,
			AdfPValue: adf,
			RSquared:  0.9,
		}
	}
	return points
}

func passingCandidate() *models.CandidateSnapshot {
	return &models.CandidateSnapshot{
		LongTicker:        "AAA",
		ShortTicker:       "BBB",
		Correlation:       0.9,
		CorrelationPValue: 0.01,
		Cointegrated:      true,
		CointPValue:       0.02,
		LatestZScore:      2.5,
		AvgRSquared:       0.9,
		AvgAdfPValue:      0.02,
		History:           makeHistory(200, 0.02),
	}
}

func testSettings() models.Settings {
	s := models.DefaultSettings()
	s.MinZ = 2.0
	s.MinWindowSize = 100
	s.MaxPValue = 0.05
	s.MaxAdfValue = 0.05
	s.MinRSquared = 0.8
	s.MinCorrelation = 0.8
	return s
}

func TestApplyFilters_PassingCandidate(t *testing.T) {
	c := passingCandidate()
	// история с одним ADF = последняя точка определяет текущее значение
	if reason := ApplyFilters(Filters(), testSettings(), c); reason != "" {
		t.Fatalf("кандидат должен пройти, отклонен: %s", reason)
	}
}

func TestApplyFilters_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CandidateSnapshot)
		want   string
	}{
		{
			name:   "нет данных",
			mutate: func(c *models.CandidateSnapshot) { c.History = nil },
			want:   RejectDataMissing,
		},
		{
			name: "ошибка анализа пары",
			mutate: func(c *models.CandidateSnapshot) {
				c.Error = "singular matrix"
			},
			want: RejectDataMissing,
		},
		{
			name: "высокое ADF p-value",
			mutate: func(c *models.CandidateSnapshot) {
				c.History = makeHistory(200, 0.2)
				c.AvgAdfPValue = 0.2
			},
			want: RejectAdfPValue,
		},
		{
			name: "низкий R²",
			mutate: func(c *models.CandidateSnapshot) {
				for i := range c.History {
					c.History[i].RSquared = 0.5
				}
				c.AvgRSquared = 0.5
			},
			want: RejectRSquared,
		},
		{
			name: "незначимая корреляция",
			mutate: func(c *models.CandidateSnapshot) {
				c.CorrelationPValue = 0.2
			},
			want: RejectCorrelationPValue,
		},
		{
			name: "слабая корреляция",
			mutate: func(c *models.CandidateSnapshot) {
				c.Correlation = 0.3
			},
			want: RejectCorrelation,
		},
		{
			name: "Z ниже порога",
			mutate: func(c *models.CandidateSnapshot) {
				c.LatestZScore = 1.0
			},
			want: RejectZScore,
		},
		{
			name: "экстремальный Z",
			mutate: func(c *models.CandidateSnapshot) {
				c.LatestZScore = 6.0
			},
			want: RejectExtremeZ,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := passingCandidate()
			tt.mutate(c)
			got := ApplyFilters(Filters(), testSettings(), c)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("причина = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

func TestApplyFilters_NegativeCorrelationPasses(t *testing.T) {
	c := passingCandidate()
	c.Correlation = -0.95
	if reason := ApplyFilters(Filters(), testSettings(), c); reason != "" {
		t.Fatalf("сильная отрицательная корреляция должна проходить, отклонено: %s", reason)
	}
}

func TestApplyFilters_NegativeZPasses(t *testing.T) {
	c := passingCandidate()
	c.LatestZScore = -2.5
	if reason := ApplyFilters(Filters(), testSettings(), c); reason != "" {
		t.Fatalf("Z по модулю выше порога должен проходить, отклонено: %s", reason)
	}
}

func TestApplyFilters_DisabledFilterSkipped(t *testing.T) {
	s := testSettings()
	s.UseMinCorrelationFilter = false

	c := passingCandidate()
	c.Correlation = 0.3

	if reason := ApplyFilters(Filters(), s, c); reason != "" {
		t.Fatalf("выключенный фильтр не должен отклонять, получено: %s", reason)
	}
}

func TestApplyFilters_UnstableRecentZ(t *testing.T) {
	c := passingCandidate()
	// последние 10 значений Z скачут: разброс выше допустимого
	n := len(c.History)
	for i := 0; i < 10; i++ {
		z := 2.0
		if i%2 == 0 {
			z = -2.0
		}
		c.History[n-10+i].ZScore = z
	}
	if got := ApplyFilters(Filters(), testSettings(), c); got != RejectUnstableZ {
		t.Fatalf("причина = %q, ожидалось %q", got, RejectUnstableZ)
	}
}

func TestApplyFilters_ShortHistorySkipsStability(t *testing.T) {
	// Молодая пара с историей короче минимума для оценки стабильности:
	// проверка не проводится, кандидата судят остальные фильтры.
	c := passingCandidate()
	c.History = makeHistory(50, 0.02)

	if reason := ApplyFilters(Filters(), testSettings(), c); reason != "" {
		t.Fatalf("короткая история не должна отклоняться по стабильности, получено: %s", reason)
	}
}

func TestApplyFilters_ZVolatilityBoundary(t *testing.T) {
	setTail := func(c *models.CandidateSnapshot, tail []float64) {
		n := len(c.History)
		for i, z := range tail {
			c.History[n-len(tail)+i].ZScore = z
		}
	}

	// выборочное отклонение ровно 1.5: sum d^2 = 20.25, /9 = 2.25
	c := passingCandidate()
	setTail(c, []float64{0, 0, 0, 0, 0, 0, 2.25, -2.25, 2.25, -2.25})
	if got := ApplyFilters(Filters(), testSettings(), c); got != "" {
		t.Fatalf("разброс ровно на пороге должен проходить, получено: %q", got)
	}

	c = passingCandidate()
	setTail(c, []float64{0, 0, 0, 0, 0, 0, 2.5, -2.5, 2.5, -2.5}) // ~1.67
	if got := ApplyFilters(Filters(), testSettings(), c); got != RejectUnstableZ {
		t.Fatalf("причина = %q, ожидалось %q", got, RejectUnstableZ)
	}
}

func TestStableCointegration(t *testing.T) {
	tests := []struct {
		name       string
		history    []models.ZScorePoint
		windowSize int
		wantOK     bool
	}{
		{
			// короткая история: вердикт false и нулевая доля, но фильтр
			// стабильности такого кандидата не отклоняет - см.
			// TestApplyFilters_ShortHistorySkipsStability
			name:       "мало точек",
			history:    makeHistory(99, 0.01),
			windowSize: 50,
			wantOK:     false,
		},
		{
			name:       "все окна стабильны",
			history:    makeHistory(200, 0.01),
			windowSize: 100,
			wantOK:     true,
		},
		{
			name:       "все окна нестабильны",
			history:    makeHistory(200, 0.5),
			windowSize: 100,
			wantOK:     false,
		},
		{
			name:       "окно больше истории",
			history:    makeHistory(150, 0.01),
			windowSize: 200,
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := StableCointegration(tt.history, tt.windowSize, 0.05)
			if ok != tt.wantOK {
				t.Errorf("StableCointegration = %v, ожидалось %v", ok, tt.wantOK)
			}
		})
	}
}

func TestStableCointegration_RatioBoundary(t *testing.T) {
	// 200 точек, окно 100, шаг 50: окна [0:100], [50:150], [100:200] - 3 штуки.
	// Два стабильных из трех = 0.66 < 0.70 - не проходит.
	history := makeHistory(200, 0.01)
	for i := 100; i < 200; i++ {
		history[i].AdfPValue = 0.5
	}
	// окна [50:150] и [100:200] задевают нестабильный хвост
	ok, ratio := StableCointegration(history, 100, 0.05)
	if ok {
		t.Fatalf("доля %.2f ниже порога, вердикт должен быть false", ratio)
	}
	if ratio >= stabilityMinRatio {
		t.Fatalf("ratio = %.2f, ожидалось < %.2f", ratio, stabilityMinRatio)
	}
}

func TestStableCointegration_ZerosIgnored(t *testing.T) {
	// Нули ADF не тянут среднее вниз: окно из нулей и большого p-value нестабильно
	history := makeHistory(200, 0)
	for i := 0; i < 200; i += 2 {
		history[i].AdfPValue = 0.9
	}
	ok, _ := StableCointegration(history, 100, 0.05)
	if ok {
		t.Fatal("нули должны игнорироваться, среднее 0.9 нестабильно")
	}
}
