package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"statarbitrage/internal/lifecycle"
	"statarbitrage/internal/models"
	"statarbitrage/internal/portfolio"
	"statarbitrage/internal/screening"
	"statarbitrage/pkg/utils"
)

// Виды циклов
const (
	kindUpdate   = "update"
	kindMaintain = "maintain"
)

// SettingsSource читает снимок настроек.
type SettingsSource interface {
	Get(ctx context.Context) (models.Settings, error)
}

// PairStore — операции над парами, нужные планировщику.
type PairStore interface {
	Create(ctx context.Context, pair *models.Pair) error
	GetByStatus(ctx context.Context, status string) ([]*models.Pair, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	ActiveTickers(ctx context.Context) ([]string, error)
	DeleteStaleSelected(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Screener находит кандидатов.
type Screener interface {
	Screen(ctx context.Context, req screening.Request) (*screening.Result, error)
}

// TradeEngine управляет жизненным циклом пар.
type TradeEngine interface {
	Promote(ctx context.Context, pair *models.Pair, settings models.Settings) error
	UpdateTrade(ctx context.Context, pair *models.Pair, settings models.Settings) error
	RefreshObserved(ctx context.Context, pair *models.Pair, settings models.Settings) error
}

// PriceUpdater обновляет цены открытых позиций перед обходом пар.
type PriceUpdater interface {
	UpdatePositionPrices(ctx context.Context) error
	Portfolio(ctx context.Context) (models.Portfolio, error)
}

// SnapshotStore сохраняет снимки портфеля.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, p models.Portfolio) error
}

// Config интервалов планировщика.
type Config struct {
	UpdateInterval   time.Duration // обход торгуемых пар
	MaintainInterval time.Duration // скрининг и промоушен
	StaleSelectedAge time.Duration // возраст, после которого кандидат протух
	MaintainWait     time.Duration // сколько maintain ждет завершения update
	TickTimeout      time.Duration // дедлайн одного цикла
}

// DefaultConfig возвращает интервалы по умолчанию.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:   time.Minute,
		MaintainInterval: 5 * time.Minute,
		StaleSelectedAge: 30 * time.Minute,
		MaintainWait:     60 * time.Second,
		TickTimeout:      45 * time.Second,
	}
}

func (c *Config) validate() {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = time.Minute
	}
	if c.MaintainInterval <= 0 {
		c.MaintainInterval = 5 * time.Minute
	}
	if c.StaleSelectedAge <= 0 {
		c.StaleSelectedAge = 30 * time.Minute
	}
	if c.MaintainWait <= 0 {
		c.MaintainWait = 60 * time.Second
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 45 * time.Second
	}
}

// Scheduler — цикл реконсиляции: каждую минуту сверяет торгуемые пары
// с желаемым состоянием, каждые пять минут добирает недостающие.
// Тики одного вида невозвратны: если предыдущий еще идет, новый
// пропускается, не ставится в очередь.
type Scheduler struct {
	cfg       Config
	settings  SettingsSource
	pairs     PairStore
	screener  Screener
	engine    TradeEngine
	trading   PriceUpdater
	snapshots SnapshotStore
	log       *utils.Logger

	updateRunning   atomic.Bool
	maintainRunning atomic.Bool
}

// New создает планировщик.
func New(cfg Config, settings SettingsSource, pairs PairStore, screener Screener,
	engine TradeEngine, trading PriceUpdater, snapshots SnapshotStore, log *utils.Logger) *Scheduler {
	cfg.validate()
	return &Scheduler{
		cfg:       cfg,
		settings:  settings,
		pairs:     pairs,
		screener:  screener,
		engine:    engine,
		trading:   trading,
		snapshots: snapshots,
		log:       log.Named("scheduler"),
	}
}

// Run крутит оба таймера до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	updateTicker := time.NewTicker(s.cfg.UpdateInterval)
	maintainTicker := time.NewTicker(s.cfg.MaintainInterval)
	defer updateTicker.Stop()
	defer maintainTicker.Stop()

	s.log.Info("планировщик запущен",
		zap.Duration("update_interval", s.cfg.UpdateInterval),
		zap.Duration("maintain_interval", s.cfg.MaintainInterval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("планировщик остановлен")
			return
		case <-updateTicker.C:
			go s.tick(ctx, kindUpdate, &s.updateRunning, s.UpdateCycle)
		case <-maintainTicker.C:
			go s.tick(ctx, kindMaintain, &s.maintainRunning, s.MaintainCycle)
		}
	}
}

// tick запускает цикл под CAS-флагом: затянувшийся тик пропускает
// следующие срабатывания таймера, не накапливая их.
func (s *Scheduler) tick(ctx context.Context, kind string, running *atomic.Bool, cycle func(context.Context) error) {
	if !running.CompareAndSwap(false, true) {
		cyclesSkipped.WithLabelValues(kind).Inc()
		s.log.Warn("тик пропущен: предыдущий цикл еще идет", zap.String("kind", kind))
		return
	}
	defer running.Store(false)

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	cyclesTotal.WithLabelValues(kind).Inc()
	err := cycle(tickCtx)
	cycleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		cycleErrors.WithLabelValues(kind).Inc()
		s.log.Error("цикл завершился ошибкой",
			zap.String("kind", kind),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
	}
}

// UpdateCycle сверяет все торгуемые пары: цены, статистика, усреднение,
// правила выхода. Ошибка одной пары не трогает остальные; цикл
// прерывает только недоступность настроек.
func (s *Scheduler) UpdateCycle(ctx context.Context) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	if err := s.trading.UpdatePositionPrices(ctx); err != nil {
		s.log.Warn("обновление цен позиций не удалось", zap.Error(err))
	}

	trading, err := s.pairs.GetByStatus(ctx, models.PairStatusTrading)
	if err != nil {
		return err
	}

	var updated, failed int
	for _, pair := range trading {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.engine.UpdateTrade(ctx, pair, settings); err != nil {
			failed++
			pairErrors.Inc()
			s.log.Error("обновление пары не удалось",
				zap.String("pair", pair.PairName), zap.Error(err))
			continue
		}
		updated++
		if pair.Status == models.PairStatusClosed {
			tradesClosed.WithLabelValues(pair.ExitReason).Inc()
		}
	}

	// Наблюдаемые пары переоцениваются тем же циклом: без этого они
	// застревают в OBSERVED навсегда
	observed, err := s.pairs.GetByStatus(ctx, models.PairStatusObserved)
	if err != nil {
		return err
	}
	for _, pair := range observed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.engine.RefreshObserved(ctx, pair, settings); err != nil {
			pairErrors.Inc()
			s.log.Error("переоценка наблюдаемой пары не удалась",
				zap.String("pair", pair.PairName), zap.Error(err))
		}
	}

	s.refreshGauges(ctx)
	s.log.Info("update цикл завершен",
		zap.Int("trading", len(trading)),
		zap.Int("observed", len(observed)),
		zap.Int("updated", updated),
		zap.Int("failed", failed))
	return nil
}

// MaintainCycle добирает пары до целевого количества: чистит протухших
// кандидатов, запускает скрининг и промоутит лучших. Уступает дорогу
// идущему update-циклу, но ждет его не дольше MaintainWait.
func (s *Scheduler) MaintainCycle(ctx context.Context) error {
	if err := s.waitForUpdate(ctx); err != nil {
		return err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	if !settings.AutoTradingEnabled {
		s.log.Debug("автоторговля выключена, maintain пропущен")
		return s.savePortfolioSnapshot(ctx)
	}

	if purged, err := s.pairs.DeleteStaleSelected(ctx, s.cfg.StaleSelectedAge); err != nil {
		s.log.Warn("чистка протухших кандидатов не удалась", zap.Error(err))
	} else if purged > 0 {
		s.log.Info("протухшие кандидаты удалены", zap.Int64("count", purged))
	}

	tradingCount, err := s.pairs.CountByStatus(ctx, models.PairStatusTrading)
	if err != nil {
		return err
	}
	missing := settings.UsePairs - tradingCount
	if missing <= 0 {
		s.refreshGauges(ctx)
		return s.savePortfolioSnapshot(ctx)
	}

	// Сначала кандидаты, уже ждущие в БД: вернувшиеся из наблюдения
	// и уцелевшие после рестарта
	selected, err := s.pairs.GetByStatus(ctx, models.PairStatusSelected)
	if err != nil {
		return err
	}
	var opened int
	for _, pair := range selected {
		if opened >= missing {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.engine.Promote(ctx, pair, settings); err != nil {
			if tolerablePromoteError(err) {
				continue
			}
			pairErrors.Inc()
			continue
		}
		opened++
		tradesOpened.Inc()
	}
	if missing -= opened; missing <= 0 {
		s.refreshGauges(ctx)
		s.log.Info("maintain цикл завершен без скрининга",
			zap.Int("opened", opened))
		return s.savePortfolioSnapshot(ctx)
	}

	activeTickers, err := s.pairs.ActiveTickers(ctx)
	if err != nil {
		return err
	}

	result, err := s.screener.Screen(ctx, screening.Request{
		Settings:       settings,
		ExcludeTickers: activeTickers,
		Limit:          missing,
	})
	if err != nil {
		return err
	}
	candidatesScreened.Add(float64(result.Stats.Total))
	candidatesPassed.Add(float64(result.Stats.Passed))

	for i := range result.Candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pair := models.NewPair(&result.Candidates[i])
		if err := s.pairs.Create(ctx, pair); err != nil {
			s.log.Warn("кандидат не сохранен",
				zap.String("pair", pair.PairName), zap.Error(err))
			continue
		}
		if err := s.engine.Promote(ctx, pair, settings); err != nil {
			// Устаревший кандидат уже удален движком, нехватка маржи
			// увела пару под наблюдение, остальные ошибки оставили её
			// в ERROR — во всех случаях идем дальше
			if !tolerablePromoteError(err) {
				pairErrors.Inc()
			}
			continue
		}
		opened++
		tradesOpened.Inc()
	}

	s.refreshGauges(ctx)
	s.log.Info("maintain цикл завершен",
		zap.Int("missing", missing),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("opened", opened))
	return s.savePortfolioSnapshot(ctx)
}

// tolerablePromoteError — отказ промоушена, который не считается сбоем:
// кандидат устарел либо пара ушла под наблюдение из-за нехватки маржи.
func tolerablePromoteError(err error) bool {
	return errors.Is(err, lifecycle.ErrCandidateStale) ||
		errors.Is(err, portfolio.ErrInsufficientBalance)
}

// waitForUpdate ждет завершения update-цикла, но не дольше MaintainWait.
func (s *Scheduler) waitForUpdate(ctx context.Context) error {
	if !s.updateRunning.Load() {
		return nil
	}
	deadline := time.Now().Add(s.cfg.MaintainWait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.updateRunning.Load() {
				return nil
			}
			if time.Now().After(deadline) {
				s.log.Warn("update цикл не завершился вовремя, maintain продолжает")
				return nil
			}
		}
	}
}

func (s *Scheduler) savePortfolioSnapshot(ctx context.Context) error {
	portfolio, err := s.trading.Portfolio(ctx)
	if err != nil {
		return err
	}
	balance, _ := portfolio.TotalBalance.Float64()
	portfolioBalance.Set(balance)
	portfolioDrawdown.Set(portfolio.MaxDrawdown)
	return s.snapshots.SaveSnapshot(ctx, portfolio)
}

func (s *Scheduler) refreshGauges(ctx context.Context) {
	for _, status := range []string{
		models.PairStatusSelected,
		models.PairStatusObserved,
		models.PairStatusTrading,
	} {
		if count, err := s.pairs.CountByStatus(ctx, status); err == nil {
			pairsByStatus.WithLabelValues(status).Set(float64(count))
		}
	}
}
