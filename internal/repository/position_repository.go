package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"statarbitrage/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions.
// Позиции живут в памяти виртуального брокера; таблица — журнал для
// восстановления после рестарта и для истории сделок.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `
	id, position_id, pair_uuid, symbol, side, size, entry_price, current_price, close_price,
	leverage, allocated_amount, unrealized_pnl, realized_pnl, pnl_percent,
	opening_fee, closing_fee, status, external_order_id, open_time, close_time`

// Save сохраняет позицию, перезаписывая существующую по position_id.
func (r *PositionRepository) Save(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (
			position_id, pair_uuid, symbol, side, size, entry_price, current_price, close_price,
			leverage, allocated_amount, unrealized_pnl, realized_pnl, pnl_percent,
			opening_fee, closing_fee, status, external_order_id, open_time, close_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (position_id) DO UPDATE SET
			size = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			current_price = EXCLUDED.current_price,
			close_price = EXCLUDED.close_price,
			allocated_amount = EXCLUDED.allocated_amount,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			pnl_percent = EXCLUDED.pnl_percent,
			opening_fee = EXCLUDED.opening_fee,
			closing_fee = EXCLUDED.closing_fee,
			status = EXCLUDED.status,
			close_time = EXCLUDED.close_time
		RETURNING id`

	var closeTime interface{}
	if !p.CloseTime.IsZero() {
		closeTime = p.CloseTime
	}
	return r.db.QueryRowContext(ctx, query,
		p.PositionID, p.PairUUID, p.Symbol, p.Side, p.Size, p.EntryPrice, p.CurrentPrice, p.ClosePrice,
		p.Leverage, p.AllocatedAmount, p.UnrealizedPnL, p.RealizedPnL, p.PnLPercent,
		p.OpeningFee, p.ClosingFee, p.Status, p.ExternalOrderID, p.OpenTime, closeTime,
	).Scan(&p.ID)
}

// GetByPositionID возвращает позицию по внутреннему id провайдера.
func (r *PositionRepository) GetByPositionID(ctx context.Context, positionID string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`
	pos, err := r.scanPosition(r.db.QueryRowContext(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return pos, nil
}

// GetOpenByPair возвращает открытые позиции пары.
func (r *PositionRepository) GetOpenByPair(ctx context.Context, pairUUID uuid.UUID) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE pair_uuid = $1 AND status = $2 ORDER BY open_time`
	rows, err := r.db.QueryContext(ctx, query, pairUUID, models.PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// GetOpen возвращает все открытые позиции.
func (r *PositionRepository) GetOpen(ctx context.Context) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = $1 ORDER BY open_time`
	rows, err := r.db.QueryContext(ctx, query, models.PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (r *PositionRepository) scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var closeTime sql.NullTime
	err := row.Scan(
		&p.ID, &p.PositionID, &p.PairUUID, &p.Symbol, &p.Side, &p.Size,
		&p.EntryPrice, &p.CurrentPrice, &p.ClosePrice,
		&p.Leverage, &p.AllocatedAmount, &p.UnrealizedPnL, &p.RealizedPnL, &p.PnLPercent,
		&p.OpeningFee, &p.ClosingFee, &p.Status, &p.ExternalOrderID, &p.OpenTime, &closeTime,
	)
	if err != nil {
		return nil, err
	}
	if closeTime.Valid {
		p.CloseTime = closeTime.Time
	}
	return p, nil
}
