package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/internal/portfolio"
	"statarbitrage/pkg/utils"
)

var (
	// ErrCandidateStale - кандидат не прошел повторную проверку перед
	// открытием; вызывающий удаляет его, это не ошибка цикла
	ErrCandidateStale = errors.New("кандидат устарел")
	ErrNotTrading     = errors.New("пара не в статусе TRADING")
)

// MarketData поставляет свечи и цены для переоценки пары.
type MarketData interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Stats выполняет статистический анализ одной пары.
type Stats interface {
	AnalyzePair(ctx context.Context, tickerA, tickerB string, candles map[string][]models.Candle, settings models.Settings) (*models.CandidateSnapshot, error)
}

// TradingProvider исполняет торговые намерения. Реализация — виртуальный
// брокер; адаптеры реальных бирж подключаются тем же интерфейсом.
type TradingProvider interface {
	OpenLong(ctx context.Context, pairUUID uuid.UUID, symbol string, marginUSDT, leverage float64) (*models.Position, error)
	OpenShort(ctx context.Context, pairUUID uuid.UUID, symbol string, marginUSDT, leverage float64) (*models.Position, error)
	ClosePosition(ctx context.Context, positionID string) (*models.Position, error)
	IncreasePosition(ctx context.Context, positionID string, additionalMargin float64) (*models.Position, error)
	GetPosition(ctx context.Context, positionID string) (*models.Position, error)
	Portfolio(ctx context.Context) (models.Portfolio, error)
}

// PairStore сохраняет изменения пары.
type PairStore interface {
	Update(ctx context.Context, pair *models.Pair) error
	Delete(ctx context.Context, pairUUID uuid.UUID) error
}

// Publisher доставляет события жизненного цикла.
type Publisher interface {
	Publish(event models.PairEvent)
}

// Engine управляет жизненным циклом пары: промоушен кандидата в сделку,
// обновление сделки, усреднение и выход. Операции над одной парой
// сериализуются мьютексом по uuid; разные пары обрабатываются независимо.
type Engine struct {
	marketData MarketData
	stats      Stats
	trading    TradingProvider
	store      PairStore
	events     Publisher
	log        *utils.Logger

	rules []ExitRule
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewEngine создает движок жизненного цикла.
func NewEngine(marketData MarketData, stats Stats, trading TradingProvider, store PairStore, events Publisher, log *utils.Logger) *Engine {
	return &Engine{
		marketData: marketData,
		stats:      stats,
		trading:    trading,
		store:      store,
		events:     events,
		log:        log.Named("lifecycle"),
		rules:      ExitRules(),
	}
}

func (e *Engine) lock(id uuid.UUID) func() {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Promote открывает сделку по кандидату: повторный анализ, проверка |Z|,
// открытие обеих ног, фиксация снимка входа, SELECTED -> TRADING.
// Ошибка второй ноги откатывает первую. Устаревший кандидат удаляется.
func (e *Engine) Promote(ctx context.Context, pair *models.Pair, settings models.Settings) error {
	defer e.lock(pair.UUID)()

	if !CanTransition(pair.Status, models.PairStatusTrading) {
		return fmt.Errorf("%w: promote из %s", ErrInvalidTransition, pair.Status)
	}

	snapshot, err := e.reanalyze(ctx, pair, settings)
	if err != nil {
		return e.fail(ctx, pair, fmt.Errorf("повторный анализ: %w", err))
	}
	if math.Abs(snapshot.LatestZScore) < settings.MinZ {
		e.log.Info("кандидат устарел, Z ниже порога",
			zap.String("pair", pair.PairName),
			zap.Float64("z", snapshot.LatestZScore),
			zap.Float64("min_z", settings.MinZ))
		if err := e.store.Delete(ctx, pair.UUID); err != nil {
			return err
		}
		return ErrCandidateStale
	}

	pf, err := e.trading.Portfolio(ctx)
	if err != nil {
		return e.fail(ctx, pair, fmt.Errorf("портфель: %w", err))
	}
	pair.PortfolioBefore = pf.TotalBalance

	long, err := e.trading.OpenLong(ctx, pair.UUID, pair.TickerA, settings.MaxLongMarginSize, settings.Leverage)
	if err != nil {
		if errors.Is(err, portfolio.ErrInsufficientBalance) {
			return e.observe(ctx, pair, err)
		}
		return e.fail(ctx, pair, fmt.Errorf("открытие лонг-ноги %s: %w", pair.TickerA, err))
	}
	short, err := e.trading.OpenShort(ctx, pair.UUID, pair.TickerB, settings.MaxShortMarginSize, settings.Leverage)
	if err != nil {
		// Откат первой ноги: односторонняя экспозиция хуже, чем упущенный вход
		if _, rbErr := e.trading.ClosePosition(ctx, long.PositionID); rbErr != nil {
			e.log.Error("откат лонг-ноги не удался",
				zap.String("pair", pair.PairName),
				zap.String("position_id", long.PositionID),
				zap.Error(rbErr))
		}
		if errors.Is(err, portfolio.ErrInsufficientBalance) {
			return e.observe(ctx, pair, err)
		}
		return e.fail(ctx, pair, fmt.Errorf("открытие шорт-ноги %s: %w", pair.TickerB, err))
	}

	pair.ApplyEntrySnapshot(snapshot, long.EntryPrice, short.EntryPrice)
	pair.LongPositionID = long.PositionID
	pair.ShortPositionID = short.PositionID
	if err := Transition(pair, models.PairStatusTrading); err != nil {
		return err
	}
	if err := e.store.Update(ctx, pair); err != nil {
		return err
	}

	e.events.Publish(models.NewPairEvent(models.EventPairOpened, pair, ""))
	e.log.Info("сделка открыта",
		zap.String("pair", pair.PairName),
		zap.Float64("entry_z", pair.EntryZScore),
		zap.Float64("price_a", long.EntryPrice),
		zap.Float64("price_b", short.EntryPrice))
	return nil
}

// observe переводит кандидата под наблюдение без открытия позиций:
// нехватка маржи не дефект пары, она ждет освобождения средств.
// Вызывается под блокировкой пары; возвращает исходную причину.
func (e *Engine) observe(ctx context.Context, pair *models.Pair, cause error) error {
	if err := Transition(pair, models.PairStatusObserved); err != nil {
		return err
	}
	if err := e.store.Update(ctx, pair); err != nil {
		return err
	}
	e.events.Publish(models.NewPairEvent(models.EventPairObserved, pair, cause.Error()))
	e.log.Info("пара под наблюдением",
		zap.String("pair", pair.PairName), zap.Error(cause))
	return cause
}

// RefreshObserved переоценивает наблюдаемую пару. Позиций нет, поэтому
// только статистика: спред, вернувшийся к среднему, закрывает наблюдение,
// все еще растянутый возвращает пару в кандидаты на вход.
func (e *Engine) RefreshObserved(ctx context.Context, pair *models.Pair, settings models.Settings) error {
	defer e.lock(pair.UUID)()

	if pair.Status != models.PairStatusObserved {
		return fmt.Errorf("%w: refresh из %s", ErrInvalidTransition, pair.Status)
	}

	snapshot, err := e.reanalyze(ctx, pair, settings)
	if err != nil {
		return err
	}
	pair.ApplyCurrentSnapshot(snapshot)

	switch {
	case math.Abs(pair.CurrentZScore) <= settings.ExitZMin:
		if err := Transition(pair, models.PairStatusClosed); err != nil {
			return err
		}
		if err := e.store.Update(ctx, pair); err != nil {
			return err
		}
		e.events.Publish(models.NewPairEvent(models.EventPairClosed, pair, "наблюдение завершено"))
		e.log.Info("наблюдение завершено: спред вернулся к среднему",
			zap.String("pair", pair.PairName), zap.Float64("z", pair.CurrentZScore))
		return nil
	case math.Abs(pair.CurrentZScore) >= settings.MinZ:
		if err := Transition(pair, models.PairStatusSelected); err != nil {
			return err
		}
		if err := e.store.Update(ctx, pair); err != nil {
			return err
		}
		e.events.Publish(models.NewPairEvent(models.EventPairSelected, pair, ""))
		e.log.Info("пара вернулась в кандидаты",
			zap.String("pair", pair.PairName), zap.Float64("z", pair.CurrentZScore))
		return nil
	}
	return e.store.Update(ctx, pair)
}

// UpdateTrade обновляет торгуемую пару: цены, снимок статистики, профит,
// усреднение либо оценка правил выхода и закрытие.
func (e *Engine) UpdateTrade(ctx context.Context, pair *models.Pair, settings models.Settings) error {
	defer e.lock(pair.UUID)()

	if pair.Status != models.PairStatusTrading {
		return ErrNotTrading
	}

	long, err := e.trading.GetPosition(ctx, pair.LongPositionID)
	if err != nil {
		return e.fail(ctx, pair, fmt.Errorf("лонг-нога: %w", err))
	}
	short, err := e.trading.GetPosition(ctx, pair.ShortPositionID)
	if err != nil {
		return e.fail(ctx, pair, fmt.Errorf("шорт-нога: %w", err))
	}

	// Сверка с брокером: уже закрытые ноги — расхождение, которое чинится,
	// а не ошибка, которую надо retry'ить
	if long.Status == models.PositionStatusClosed || short.Status == models.PositionStatusClosed {
		return e.reconcileClosed(ctx, pair, long, short)
	}

	// Снимок статистики: ошибка анализа не прерывает обновление цен
	if snapshot, err := e.reanalyze(ctx, pair, settings); err != nil {
		e.log.Warn("анализ пары не удался, обновляем только цены",
			zap.String("pair", pair.PairName), zap.Error(err))
	} else {
		pair.ApplyCurrentSnapshot(snapshot)
	}

	pair.UpdateLegChanges(long.CurrentPrice, short.CurrentPrice)
	e.applyProfit(pair, long, short)

	// Усреднение: просадка достигла порога, лимит доливок не исчерпан
	if e.shouldAverage(settings, pair) {
		return e.average(ctx, pair, settings, long, short)
	}

	if ArmBreakeven(settings, pair) {
		e.log.Info("безубыток взведен",
			zap.String("pair", pair.PairName),
			zap.Float64("profit_pct", pair.ProfitPercent))
	}

	reason := EvaluateExit(e.rules, settings, pair)
	if reason == "" {
		return e.store.Update(ctx, pair)
	}
	return e.close(ctx, pair, reason)
}

// ClosePair закрывает сделку вручную, минуя правила выхода.
func (e *Engine) ClosePair(ctx context.Context, pair *models.Pair) error {
	defer e.lock(pair.UUID)()

	if pair.Status != models.PairStatusTrading {
		return ErrNotTrading
	}
	return e.close(ctx, pair, models.ExitReasonManual)
}

// ============ внутренние шаги ============

func (e *Engine) reanalyze(ctx context.Context, pair *models.Pair, settings models.Settings) (*models.CandidateSnapshot, error) {
	candles := make(map[string][]models.Candle, 2)
	for _, ticker := range []string{pair.TickerA, pair.TickerB} {
		cs, err := e.marketData.GetCandles(ctx, ticker, settings.Timeframe, settings.CandleLimit)
		if err != nil {
			return nil, fmt.Errorf("свечи %s: %w", ticker, err)
		}
		candles[ticker] = cs
	}
	snapshot, err := e.stats.AnalyzePair(ctx, pair.TickerA, pair.TickerB, candles, settings)
	if err != nil {
		return nil, err
	}
	if snapshot.Error != "" {
		return nil, errors.New(snapshot.Error)
	}
	return snapshot, nil
}

func (e *Engine) applyProfit(pair *models.Pair, long, short *models.Position) {
	pnl := long.UnrealizedPnL.Add(short.UnrealizedPnL)
	allocated := long.AllocatedAmount.Add(short.AllocatedAmount)
	var percent float64
	if allocated.IsPositive() {
		percent, _ = pnl.Div(allocated).Float64()
		percent *= 100
	}
	pair.UpdateProfit(pnl, percent)
}

func (e *Engine) shouldAverage(s models.Settings, p *models.Pair) bool {
	if !s.AutoAveragingEnabled || s.AveragingVolumeMultiplier <= 1 {
		return false
	}
	if p.AveragingCount >= s.MaxAveragingCount {
		return false
	}
	return p.ProfitPercent <= -math.Abs(s.AveragingDrawdownThreshold)
}

// average доливает в убыточную ногу: маржа масштабируется множителем,
// TRADING -> TRADING.
func (e *Engine) average(ctx context.Context, pair *models.Pair, settings models.Settings, long, short *models.Position) error {
	losing := long
	if short.UnrealizedPnL.LessThan(long.UnrealizedPnL) {
		losing = short
	}

	additional, _ := losing.AllocatedAmount.Mul(decimal.NewFromFloat(settings.AveragingVolumeMultiplier - 1)).Float64()
	if additional <= 0 {
		return nil
	}

	if _, err := e.trading.IncreasePosition(ctx, losing.PositionID, additional); err != nil {
		// Нехватка средств не ломает сделку, просто доливки не будет
		e.log.Warn("усреднение не удалось",
			zap.String("pair", pair.PairName),
			zap.String("position_id", losing.PositionID),
			zap.Error(err))
		return e.store.Update(ctx, pair)
	}

	pair.AveragingCount++
	if err := Transition(pair, models.PairStatusTrading); err != nil {
		return err
	}
	if err := e.store.Update(ctx, pair); err != nil {
		return err
	}

	e.events.Publish(models.NewPairEvent(models.EventPairAveraged, pair,
		fmt.Sprintf("доливка #%d в %s", pair.AveragingCount, losing.Symbol)))
	e.log.Info("усреднение выполнено",
		zap.String("pair", pair.PairName),
		zap.Int("count", pair.AveragingCount),
		zap.Float64("additional_margin", additional))
	return nil
}

func (e *Engine) close(ctx context.Context, pair *models.Pair, reason string) error {
	var realized decimal.Decimal
	for _, id := range []string{pair.LongPositionID, pair.ShortPositionID} {
		pos, err := e.trading.ClosePosition(ctx, id)
		if err != nil {
			// Уже закрытая нога — намерение исполнено ранее, учитываем результат
			if pos != nil && pos.Status == models.PositionStatusClosed {
				realized = realized.Add(pos.RealizedPnL)
				continue
			}
			return e.fail(ctx, pair, fmt.Errorf("закрытие позиции %s: %w", id, err))
		}
		realized = realized.Add(pos.RealizedPnL)
	}

	e.finishClosed(pair, reason, realized)
	if err := e.store.Update(ctx, pair); err != nil {
		return err
	}

	e.events.Publish(models.NewPairEvent(models.EventPairClosed, pair, reason))
	e.log.Info("сделка закрыта",
		zap.String("pair", pair.PairName),
		zap.String("reason", reason),
		zap.String("profit_usdt", pair.ProfitUSDT.String()),
		zap.Float64("profit_pct", pair.ProfitPercent))
	return nil
}

// reconcileClosed чинит расхождение: одна или обе ноги уже закрыты у
// брокера, пара в БД еще TRADING. Открытая нога закрывается, итог
// пересчитывается по реализованному PnL.
func (e *Engine) reconcileClosed(ctx context.Context, pair *models.Pair, long, short *models.Position) error {
	e.log.Warn("обнаружено расхождение: нога закрыта у брокера",
		zap.String("pair", pair.PairName),
		zap.String("long_status", long.Status),
		zap.String("short_status", short.Status))

	var realized decimal.Decimal
	for _, pos := range []*models.Position{long, short} {
		if pos.Status == models.PositionStatusClosed {
			realized = realized.Add(pos.RealizedPnL)
			continue
		}
		closed, err := e.trading.ClosePosition(ctx, pos.PositionID)
		if err != nil {
			return e.fail(ctx, pair, fmt.Errorf("закрытие осиротевшей ноги %s: %w", pos.PositionID, err))
		}
		realized = realized.Add(closed.RealizedPnL)
	}

	e.finishClosed(pair, models.ExitReasonManual, realized)
	if err := e.store.Update(ctx, pair); err != nil {
		return err
	}
	e.events.Publish(models.NewPairEvent(models.EventPairClosed, pair, "reconciled"))
	return nil
}

// finishClosed фиксирует итог сделки. ProfitPercent остается с последнего
// обновления: процент считается от маржи, а не от реализованного PnL.
func (e *Engine) finishClosed(pair *models.Pair, reason string, realized decimal.Decimal) {
	pair.ProfitUSDT = realized
	pair.ExitReason = reason
	pair.Status = models.PairStatusClosed
	pair.UpdatedTime = time.Now()
}

// fail переводит пару в ERROR, сохраняет описание и публикует событие.
// Возвращает исходную ошибку.
func (e *Engine) fail(ctx context.Context, pair *models.Pair, cause error) error {
	pair.ErrorDescription = cause.Error()
	pair.Status = models.PairStatusError
	if err := e.store.Update(ctx, pair); err != nil {
		e.log.Error("не удалось сохранить ERROR статус",
			zap.String("pair", pair.PairName), zap.Error(err))
	}
	e.events.Publish(models.NewPairEvent(models.EventPairErrored, pair, cause.Error()))
	e.log.Error("пара переведена в ERROR",
		zap.String("pair", pair.PairName), zap.Error(cause))
	return cause
}
