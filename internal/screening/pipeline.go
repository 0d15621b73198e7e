package screening

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/utils"
)

var (
	ErrNoCandles    = errors.New("нет свечей для анализа")
	ErrNoCandidates = errors.New("нет кандидатов после анализа")
)

// MarketData поставляет свечи. Реализация — HTTP клиент к сервису котировок.
type MarketData interface {
	GetCandlesMap(ctx context.Context, timeframe string, limit int, exclude map[string]bool) (map[string][]models.Candle, error)
}

// Stats поставляет результаты статистического анализа пар.
// Реализация — HTTP клиент к внешнему движку статистики.
type Stats interface {
	DiscoverPairs(ctx context.Context, candles map[string][]models.Candle, settings models.Settings) ([]models.CandidateSnapshot, error)
}

// Request параметры одного прогона скрининга.
type Request struct {
	Settings       models.Settings
	ExcludeTickers []string // тикеры уже торгуемых пар
	Limit          int      // сколько лучших кандидатов вернуть
}

// Result итог прогона: лучшие кандидаты и агрегированная статистика фильтров.
type Result struct {
	Candidates []models.CandidateSnapshot
	Stats      *models.FilterStats
}

// Pipeline — пайплайн скрининга кандидатов: свечи → анализ → фильтры → скоринг.
type Pipeline struct {
	marketData MarketData
	stats      Stats
	filters    []Filter
	log        *utils.Logger
}

// NewPipeline создает пайплайн со стандартным списком фильтров.
func NewPipeline(marketData MarketData, stats Stats, log *utils.Logger) *Pipeline {
	return &Pipeline{
		marketData: marketData,
		stats:      stats,
		filters:    Filters(),
		log:        log.Named("screening"),
	}
}

// Screen выполняет полный прогон скрининга.
// Ошибка анализа отдельной пары отклоняет только эту пару, не батч.
func (p *Pipeline) Screen(ctx context.Context, req Request) (*Result, error) {
	exclude := req.Settings.BlacklistedTickers()
	for _, t := range req.ExcludeTickers {
		exclude[strings.ToUpper(strings.TrimSpace(t))] = true
	}

	candles, err := p.marketData.GetCandlesMap(ctx, req.Settings.Timeframe, req.Settings.CandleLimit, exclude)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}

	candidates, err := p.stats.DiscoverPairs(ctx, candles, req.Settings)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	stats := models.NewFilterStats()
	passed := make([]models.CandidateSnapshot, 0, len(candidates))

	for i := range candidates {
		c := &candidates[i]
		if reason := ApplyFilters(p.filters, req.Settings, c); reason != "" {
			stats.Reject(reason)
			p.log.Debug("кандидат отклонен",
				zap.String("pair", c.Name()),
				zap.String("reason", reason),
				zap.Float64("z", c.LatestZScore),
				zap.Float64("corr", c.Correlation))
			continue
		}
		Score(req.Settings, c)
		stats.Pass()
		passed = append(passed, *c)
	}

	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].Score > passed[j].Score
	})
	if req.Limit > 0 && len(passed) > req.Limit {
		passed = passed[:req.Limit]
	}

	p.log.Info("скрининг завершен",
		zap.Int("analyzed", stats.Total),
		zap.Int("passed", stats.Passed),
		zap.Int("rejected", stats.Rejected),
		zap.Int("returned", len(passed)))

	return &Result{Candidates: passed, Stats: stats}, nil
}
