package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/utils"
)

var (
	ErrInsufficientBalance = errors.New("недостаточно свободных средств")
	ErrPositionNotFound    = errors.New("позиция не найдена")
	ErrPositionClosed      = errors.New("позиция уже закрыта")
)

// Manager — бухгалтерия виртуального портфеля.
// Все мутации проходят под одним мьютексом; инвариант
// available + reserved == total держится на каждом выходе из метода.
type Manager struct {
	mu  sync.Mutex
	p   models.Portfolio
	log *utils.Logger
}

// NewManager создает портфель с начальным балансом.
func NewManager(initialBalance decimal.Decimal, log *utils.Logger) *Manager {
	return &Manager{
		p: models.Portfolio{
			TotalBalance:     initialBalance,
			AvailableBalance: initialBalance,
			ReservedBalance:  decimal.Zero,
			InitialBalance:   initialBalance,
			HighWaterMark:    initialBalance,
			UpdatedAt:        time.Now(),
		},
		log: log.Named("portfolio"),
	}
}

// Restore восстанавливает состояние портфеля из сохраненного снимка.
func Restore(snapshot models.Portfolio, log *utils.Logger) *Manager {
	return &Manager{p: snapshot, log: log.Named("portfolio")}
}

// Reserve переводит amount из свободных средств в резерв.
// Возвращает false, если свободных средств не хватает.
func (m *Manager) Reserve(amount decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.p.AvailableBalance.LessThan(amount) {
		return false
	}
	m.p.AvailableBalance = m.p.AvailableBalance.Sub(amount)
	m.p.ReservedBalance = m.p.ReservedBalance.Add(amount)
	m.p.UpdatedAt = time.Now()
	return true
}

// Release возвращает amount из резерва в свободные средства.
func (m *Manager) Release(amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.GreaterThan(m.p.ReservedBalance) {
		// рассинхронизация резервов — лечим, не падаем
		m.log.Warn("release больше резерва",
			zap.String("amount", amount.String()),
			zap.String("reserved", m.p.ReservedBalance.String()))
		amount = m.p.ReservedBalance
	}
	m.p.ReservedBalance = m.p.ReservedBalance.Sub(amount)
	m.p.AvailableBalance = m.p.AvailableBalance.Add(amount)
	m.p.UpdatedAt = time.Now()
}

// HasAvailable сообщает, хватает ли свободных средств на amount.
func (m *Manager) HasAvailable(amount decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p.AvailableBalance.GreaterThanOrEqual(amount)
}

// OnPositionOpened учитывает открытие ноги: комиссия списывается
// со свободных средств и общего баланса.
func (m *Manager) OnPositionOpened(openingFee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.p.TotalBalance = m.p.TotalBalance.Sub(openingFee)
	m.p.AvailableBalance = m.p.AvailableBalance.Sub(openingFee)
	m.p.TotalFees = m.p.TotalFees.Add(openingFee)
	m.p.ActivePositions++
	m.p.UpdatedAt = time.Now()
	m.updateMarksLocked()
}

// OnPositionClosed учитывает закрытие ноги: резерв маржи возвращается,
// чистый результат (PnL минус комиссия закрытия) оседает в балансе.
func (m *Manager) OnPositionClosed(allocated, netPnL, closingFee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if allocated.GreaterThan(m.p.ReservedBalance) {
		allocated = m.p.ReservedBalance
	}
	m.p.ReservedBalance = m.p.ReservedBalance.Sub(allocated)
	m.p.AvailableBalance = m.p.AvailableBalance.Add(allocated).Add(netPnL)
	m.p.TotalBalance = m.p.TotalBalance.Add(netPnL)
	m.p.RealizedPnL = m.p.RealizedPnL.Add(netPnL)
	m.p.TotalFees = m.p.TotalFees.Add(closingFee)
	if m.p.ActivePositions > 0 {
		m.p.ActivePositions--
	}
	m.p.UpdatedAt = time.Now()
	m.updateMarksLocked()
}

// UpdateUnrealized обновляет суммарный плавающий PnL и следом
// high-water mark и максимальную просадку.
func (m *Manager) UpdateUnrealized(unrealized decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.p.UnrealizedPnL = unrealized
	m.p.UpdatedAt = time.Now()
	m.updateMarksLocked()
}

// CurrentPortfolio возвращает копию снимка портфеля.
func (m *Manager) CurrentPortfolio() models.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p
}

func (m *Manager) updateMarksLocked() {
	equity := m.p.TotalBalance.Add(m.p.UnrealizedPnL)
	if equity.GreaterThan(m.p.HighWaterMark) {
		m.p.HighWaterMark = equity
	}
	if m.p.HighWaterMark.IsPositive() {
		dd, _ := m.p.HighWaterMark.Sub(equity).Div(m.p.HighWaterMark).Float64()
		dd *= 100
		if dd > m.p.MaxDrawdown {
			m.p.MaxDrawdown = dd
		}
	}
}
