package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/utils"
)

// feeRate — тейкерская комиссия виртуального брокера от номинала (0.1%).
var feeRate = decimal.NewFromFloat(0.001)

// PriceSource поставляет текущие цены инструментов.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionStore журналирует позиции в БД для восстановления после рестарта.
type PositionStore interface {
	Save(ctx context.Context, pos *models.Position) error
	GetOpen(ctx context.Context) ([]*models.Position, error)
}

// VirtualProvider — виртуальный брокер для бумажной торговли.
// Исполняет ордера мгновенно по текущей цене, ведет позиции в памяти
// и проводит все деньги через Manager. Открытие атомарно:
// проверка → резерв → позиция, при ошибке цены резерв снимается.
// Каждое изменение позиции дублируется в store; источник правды —
// память, журнал нужен только для рестарта.
type VirtualProvider struct {
	mu        sync.RWMutex
	positions map[string]*models.Position

	manager *Manager
	prices  PriceSource
	store   PositionStore
	log     *utils.Logger
}

// NewVirtualProvider создает виртуального брокера. store может быть nil,
// тогда позиции живут только в памяти.
func NewVirtualProvider(manager *Manager, prices PriceSource, store PositionStore, log *utils.Logger) *VirtualProvider {
	return &VirtualProvider{
		positions: make(map[string]*models.Position),
		manager:   manager,
		prices:    prices,
		store:     store,
		log:       log.Named("virtual"),
	}
}

// LoadOpenPositions восстанавливает открытые позиции из журнала.
// Вызывается один раз при старте, до запуска планировщика.
func (v *VirtualProvider) LoadOpenPositions(ctx context.Context) (int, error) {
	if v.store == nil {
		return 0, nil
	}
	positions, err := v.store.GetOpen(ctx)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, pos := range positions {
		v.positions[pos.PositionID] = pos
	}
	return len(positions), nil
}

// persist пишет позицию в журнал. Ошибка записи не ломает сделку:
// память уже изменена, журнал догонит на следующей мутации.
func (v *VirtualProvider) persist(ctx context.Context, pos *models.Position) {
	if v.store == nil {
		return
	}
	if err := v.store.Save(ctx, pos); err != nil {
		v.log.Warn("позиция не записана в журнал",
			zap.String("position_id", pos.PositionID),
			zap.Error(err))
	}
}

// OpenLong открывает лонг-ногу с маржой marginUSDT и плечом leverage.
func (v *VirtualProvider) OpenLong(ctx context.Context, pairUUID uuid.UUID, symbol string, marginUSDT, leverage float64) (*models.Position, error) {
	return v.open(ctx, pairUUID, symbol, models.PositionSideLong, marginUSDT, leverage)
}

// OpenShort открывает шорт-ногу.
func (v *VirtualProvider) OpenShort(ctx context.Context, pairUUID uuid.UUID, symbol string, marginUSDT, leverage float64) (*models.Position, error) {
	return v.open(ctx, pairUUID, symbol, models.PositionSideShort, marginUSDT, leverage)
}

func (v *VirtualProvider) open(ctx context.Context, pairUUID uuid.UUID, symbol, side string, marginUSDT, leverage float64) (*models.Position, error) {
	margin := decimal.NewFromFloat(marginUSDT)

	// Проверка маржи — по сумме без плеча
	if !v.manager.Reserve(margin) {
		return nil, ErrInsufficientBalance
	}

	price, err := v.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		v.manager.Release(margin)
		return nil, err
	}

	fee := v.CalculateFees(margin, leverage)
	size := margin.Mul(decimal.NewFromFloat(leverage)).Div(decimal.NewFromFloat(price))

	pos := &models.Position{
		PositionID:      uuid.NewString(),
		PairUUID:        pairUUID,
		Symbol:          symbol,
		Side:            side,
		Size:            size,
		EntryPrice:      price,
		CurrentPrice:    price,
		Leverage:        leverage,
		AllocatedAmount: margin,
		OpeningFee:      fee,
		Status:          models.PositionStatusOpen,
		ExternalOrderID: uuid.NewString(),
		OpenTime:        time.Now(),
	}

	v.mu.Lock()
	v.positions[pos.PositionID] = pos
	v.mu.Unlock()

	v.manager.OnPositionOpened(fee)
	v.persist(ctx, pos)

	v.log.Info("позиция открыта",
		zap.String("position_id", pos.PositionID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.String("margin", margin.String()))
	return pos, nil
}

// ClosePosition закрывает позицию по текущей цене.
// Чистый результат = PnL минус комиссия закрытия; маржа возвращается
// в свободные средства. Закрытие уже закрытой позиции — ошибка
// ErrPositionClosed, вызывающий трактует её как уже исполненное намерение.
func (v *VirtualProvider) ClosePosition(ctx context.Context, positionID string) (*models.Position, error) {
	v.mu.Lock()
	pos, ok := v.positions[positionID]
	if !ok {
		v.mu.Unlock()
		return nil, ErrPositionNotFound
	}
	if pos.Status == models.PositionStatusClosed {
		v.mu.Unlock()
		return pos, ErrPositionClosed
	}
	v.mu.Unlock()

	price, err := v.prices.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if pos.Status == models.PositionStatusClosed {
		v.mu.Unlock()
		return pos, ErrPositionClosed
	}

	pos.CurrentPrice = price
	pos.RecalcUnrealized()

	closingFee := v.CalculateFees(pos.AllocatedAmount, pos.Leverage)
	netPnL := pos.UnrealizedPnL.Sub(closingFee)

	pos.ClosePrice = price
	pos.ClosingFee = closingFee
	pos.RealizedPnL = netPnL
	pos.UnrealizedPnL = decimal.Zero
	pos.Status = models.PositionStatusClosed
	pos.CloseTime = time.Now()
	v.mu.Unlock()

	v.manager.OnPositionClosed(pos.AllocatedAmount, netPnL, closingFee)
	v.persist(ctx, pos)

	v.log.Info("позиция закрыта",
		zap.String("position_id", pos.PositionID),
		zap.String("symbol", pos.Symbol),
		zap.Float64("close_price", price),
		zap.String("net_pnl", netPnL.String()))
	return pos, nil
}

// IncreasePosition доливает в открытую позицию additionalMargin USDT
// по текущей цене. Цена входа пересчитывается средневзвешенно.
func (v *VirtualProvider) IncreasePosition(ctx context.Context, positionID string, additionalMargin float64) (*models.Position, error) {
	v.mu.RLock()
	pos, ok := v.positions[positionID]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Status == models.PositionStatusClosed {
		return nil, ErrPositionClosed
	}

	margin := decimal.NewFromFloat(additionalMargin)
	if !v.manager.Reserve(margin) {
		return nil, ErrInsufficientBalance
	}

	price, err := v.prices.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil {
		v.manager.Release(margin)
		return nil, err
	}

	fee := v.CalculateFees(margin, pos.Leverage)
	addSize := margin.Mul(decimal.NewFromFloat(pos.Leverage)).Div(decimal.NewFromFloat(price))

	v.mu.Lock()

	// Средневзвешенная цена входа по размеру
	oldNotional := pos.Size.Mul(decimal.NewFromFloat(pos.EntryPrice))
	newNotional := addSize.Mul(decimal.NewFromFloat(price))
	totalSize := pos.Size.Add(addSize)
	if totalSize.IsPositive() {
		avg, _ := oldNotional.Add(newNotional).Div(totalSize).Float64()
		pos.EntryPrice = avg
	}
	pos.Size = totalSize
	pos.AllocatedAmount = pos.AllocatedAmount.Add(margin)
	pos.OpeningFee = pos.OpeningFee.Add(fee)
	pos.CurrentPrice = price
	pos.RecalcUnrealized()
	v.mu.Unlock()

	v.manager.OnPositionOpened(fee)
	v.persist(ctx, pos)

	v.log.Info("позиция увеличена",
		zap.String("position_id", pos.PositionID),
		zap.String("added_margin", margin.String()),
		zap.Float64("avg_entry", pos.EntryPrice))
	return pos, nil
}

// UpdatePositionPrices обновляет цены всех открытых позиций и суммарный
// плавающий PnL портфеля. Ошибка цены одной позиции не прерывает обход.
// Цены запрашиваются без блокировки: HTTP-обход под мьютексом заморозил
// бы все операции брокера на время походов к провайдеру.
func (v *VirtualProvider) UpdatePositionPrices(ctx context.Context) error {
	v.mu.RLock()
	symbols := make(map[string]struct{}, len(v.positions))
	for _, pos := range v.positions {
		if pos.Status == models.PositionStatusOpen {
			symbols[pos.Symbol] = struct{}{}
		}
	}
	v.mu.RUnlock()

	prices := make(map[string]float64, len(symbols))
	for symbol := range symbols {
		price, err := v.prices.GetCurrentPrice(ctx, symbol)
		if err != nil {
			v.log.Warn("не удалось обновить цену",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		prices[symbol] = price
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	unrealized := decimal.Zero
	for _, pos := range v.positions {
		if pos.Status != models.PositionStatusOpen {
			continue
		}
		// позиция без свежей цены несет PnL прошлого цикла
		if price, ok := prices[pos.Symbol]; ok {
			pos.CurrentPrice = price
			pos.RecalcUnrealized()
		}
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}

	v.manager.UpdateUnrealized(unrealized)
	return nil
}

// GetPosition возвращает позицию по внутреннему id.
func (v *VirtualProvider) GetPosition(_ context.Context, positionID string) (*models.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, ok := v.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// CalculateFees считает комиссию от номинала: margin × leverage × feeRate.
func (v *VirtualProvider) CalculateFees(margin decimal.Decimal, leverage float64) decimal.Decimal {
	return margin.Mul(decimal.NewFromFloat(leverage)).Mul(feeRate)
}

// Portfolio возвращает снимок портфеля.
func (v *VirtualProvider) Portfolio(_ context.Context) (models.Portfolio, error) {
	return v.manager.CurrentPortfolio(), nil
}
