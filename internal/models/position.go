package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============ Позиции ============

const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"

	PositionStatusOpen   = "OPEN"
	PositionStatusClosed = "CLOSED"
)

// Position представляет одну ногу сделки.
// Денежные поля — decimal, чтобы резервы и комиссии сходились до цента.
type Position struct {
	ID              int64           `json:"id" db:"id"`
	PositionID      string          `json:"position_id" db:"position_id"` // внутренний id, выдается провайдером
	PairUUID        uuid.UUID       `json:"pair_uuid" db:"pair_uuid"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Side            string          `json:"side" db:"side"`
	Size            decimal.Decimal `json:"size" db:"size"` // количество базового актива
	EntryPrice      float64         `json:"entry_price" db:"entry_price"`
	CurrentPrice    float64         `json:"current_price" db:"current_price"`
	ClosePrice      float64         `json:"close_price" db:"close_price"`
	Leverage        float64         `json:"leverage" db:"leverage"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount" db:"allocated_amount"` // маржа без плеча
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	PnLPercent      float64         `json:"pnl_percent" db:"pnl_percent"`
	OpeningFee      decimal.Decimal `json:"opening_fee" db:"opening_fee"`
	ClosingFee      decimal.Decimal `json:"closing_fee" db:"closing_fee"`
	Status          string          `json:"status" db:"status"`
	ExternalOrderID string          `json:"external_order_id" db:"external_order_id"`
	OpenTime        time.Time       `json:"open_time" db:"open_time"`
	CloseTime       time.Time       `json:"close_time" db:"close_time"`
}

// Notional возвращает номинал позиции с учетом плеча.
func (p *Position) Notional() decimal.Decimal {
	return p.AllocatedAmount.Mul(decimal.NewFromFloat(p.Leverage))
}

// RecalcUnrealized пересчитывает нереализованный PnL по текущей цене.
func (p *Position) RecalcUnrealized() {
	if p.EntryPrice <= 0 {
		return
	}
	change := (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == PositionSideShort {
		change = -change
	}
	p.UnrealizedPnL = p.Notional().Mul(decimal.NewFromFloat(change))
	p.PnLPercent = change * p.Leverage * 100
}

// Portfolio представляет снимок состояния виртуального портфеля.
// Инвариант: AvailableBalance + ReservedBalance == TotalBalance.
type Portfolio struct {
	ID               int64           `json:"id" db:"id"`
	TotalBalance     decimal.Decimal `json:"total_balance" db:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance" db:"reserved_balance"`
	InitialBalance   decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	TotalFees        decimal.Decimal `json:"total_fees" db:"total_fees"`
	HighWaterMark    decimal.Decimal `json:"high_water_mark" db:"high_water_mark"`
	MaxDrawdown      float64         `json:"max_drawdown" db:"max_drawdown"` // %
	ActivePositions  int             `json:"active_positions" db:"active_positions"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Equity возвращает суммарную стоимость портфеля с учетом плавающего PnL.
func (p *Portfolio) Equity() decimal.Decimal {
	return p.TotalBalance.Add(p.UnrealizedPnL)
}
