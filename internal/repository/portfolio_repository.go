package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"statarbitrage/internal/models"
)

// Ошибки репозитория портфеля
var (
	ErrPortfolioNotFound = errors.New("portfolio snapshot not found")
)

// PortfolioRepository - работа с таблицей portfolio_snapshots.
// Каждый maintain-цикл пишет новый снимок; последний используется
// для восстановления портфеля после рестарта.
type PortfolioRepository struct {
	db *sql.DB
}

// NewPortfolioRepository создает новый экземпляр репозитория
func NewPortfolioRepository(db *sql.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// SaveSnapshot сохраняет снимок портфеля.
func (r *PortfolioRepository) SaveSnapshot(ctx context.Context, p models.Portfolio) error {
	query := `
		INSERT INTO portfolio_snapshots (
			total_balance, available_balance, reserved_balance, initial_balance,
			realized_pnl, unrealized_pnl, total_fees, high_water_mark, max_drawdown,
			active_positions, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, query,
		p.TotalBalance, p.AvailableBalance, p.ReservedBalance, p.InitialBalance,
		p.RealizedPnL, p.UnrealizedPnL, p.TotalFees, p.HighWaterMark, p.MaxDrawdown,
		p.ActivePositions, p.UpdatedAt,
	)
	return err
}

// Latest возвращает последний сохраненный снимок.
func (r *PortfolioRepository) Latest(ctx context.Context) (models.Portfolio, error) {
	query := `
		SELECT id, total_balance, available_balance, reserved_balance, initial_balance,
			realized_pnl, unrealized_pnl, total_fees, high_water_mark, max_drawdown,
			active_positions, updated_at
		FROM portfolio_snapshots
		ORDER BY id DESC
		LIMIT 1`

	var p models.Portfolio
	err := r.db.QueryRowContext(ctx, query).Scan(
		&p.ID, &p.TotalBalance, &p.AvailableBalance, &p.ReservedBalance, &p.InitialBalance,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.TotalFees, &p.HighWaterMark, &p.MaxDrawdown,
		&p.ActivePositions, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Portfolio{}, ErrPortfolioNotFound
		}
		return models.Portfolio{}, err
	}
	return p, nil
}
