package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"statarbitrage/internal/models"
)

// Ошибки репозитория пар
var (
	ErrPairNotFound = errors.New("pair not found")
	ErrPairExists   = errors.New("pair already exists")
)

// PairRepository - работа с таблицей pairs
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository создает новый экземпляр репозитория
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

const pairColumns = `
	id, uuid, ticker_a, ticker_b, pair_name, status,
	entry_z_score, entry_correlation, entry_adf_p_value, entry_p_value, entry_r_squared,
	entry_spread, entry_mean, entry_std, entry_alpha, entry_beta, entry_price_a, entry_price_b,
	current_z_score, current_correlation, current_adf_p_value, current_p_value, current_r_squared,
	current_spread, current_price_a, current_price_b,
	max_z, min_z, max_correlation, min_correlation,
	max_long_percent, min_long_percent, max_short_percent, min_short_percent,
	max_profit_percent, min_profit_percent,
	long_percent_change, short_percent_change, profit_usdt, profit_percent, portfolio_before,
	long_position_id, short_position_id, score, exit_reason, error_description,
	close_at_breakeven, averaging_count,
	entry_time, updated_time, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPair(row rowScanner) (*models.Pair, error) {
	p := &models.Pair{}
	var entryTime, updatedTime sql.NullTime
	err := row.Scan(
		&p.ID, &p.UUID, &p.TickerA, &p.TickerB, &p.PairName, &p.Status,
		&p.EntryZScore, &p.EntryCorrelation, &p.EntryAdfPValue, &p.EntryPValue, &p.EntryRSquared,
		&p.EntrySpread, &p.EntryMean, &p.EntryStd, &p.EntryAlpha, &p.EntryBeta, &p.EntryPriceA, &p.EntryPriceB,
		&p.CurrentZScore, &p.CurrentCorrelation, &p.CurrentAdfPValue, &p.CurrentPValue, &p.CurrentRSquared,
		&p.CurrentSpread, &p.CurrentPriceA, &p.CurrentPriceB,
		&p.MaxZ, &p.MinZ, &p.MaxCorrelation, &p.MinCorrelation,
		&p.MaxLongPercent, &p.MinLongPercent, &p.MaxShortPercent, &p.MinShortPercent,
		&p.MaxProfitPercent, &p.MinProfitPercent,
		&p.LongPercentChange, &p.ShortPercentChange, &p.ProfitUSDT, &p.ProfitPercent, &p.PortfolioBefore,
		&p.LongPositionID, &p.ShortPositionID, &p.Score, &p.ExitReason, &p.ErrorDescription,
		&p.CloseAtBreakeven, &p.AveragingCount,
		&entryTime, &updatedTime, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entryTime.Valid {
		p.EntryTime = entryTime.Time
	}
	if updatedTime.Valid {
		p.UpdatedTime = updatedTime.Time
	}
	return p, nil
}

func pairArgs(p *models.Pair) []interface{} {
	var entryTime interface{}
	if !p.EntryTime.IsZero() {
		entryTime = p.EntryTime
	}
	return []interface{}{
		p.UUID, p.TickerA, p.TickerB, p.PairName, p.Status,
		p.EntryZScore, p.EntryCorrelation, p.EntryAdfPValue, p.EntryPValue, p.EntryRSquared,
		p.EntrySpread, p.EntryMean, p.EntryStd, p.EntryAlpha, p.EntryBeta, p.EntryPriceA, p.EntryPriceB,
		p.CurrentZScore, p.CurrentCorrelation, p.CurrentAdfPValue, p.CurrentPValue, p.CurrentRSquared,
		p.CurrentSpread, p.CurrentPriceA, p.CurrentPriceB,
		p.MaxZ, p.MinZ, p.MaxCorrelation, p.MinCorrelation,
		p.MaxLongPercent, p.MinLongPercent, p.MaxShortPercent, p.MinShortPercent,
		p.MaxProfitPercent, p.MinProfitPercent,
		p.LongPercentChange, p.ShortPercentChange, p.ProfitUSDT, p.ProfitPercent, p.PortfolioBefore,
		p.LongPositionID, p.ShortPositionID, p.Score, p.ExitReason, p.ErrorDescription,
		p.CloseAtBreakeven, p.AveragingCount,
		entryTime, p.UpdatedTime,
	}
}

// Create сохраняет нового кандидата.
func (r *PairRepository) Create(ctx context.Context, pair *models.Pair) error {
	query := `
		INSERT INTO pairs (
			uuid, ticker_a, ticker_b, pair_name, status,
			entry_z_score, entry_correlation, entry_adf_p_value, entry_p_value, entry_r_squared,
			entry_spread, entry_mean, entry_std, entry_alpha, entry_beta, entry_price_a, entry_price_b,
			current_z_score, current_correlation, current_adf_p_value, current_p_value, current_r_squared,
			current_spread, current_price_a, current_price_b,
			max_z, min_z, max_correlation, min_correlation,
			max_long_percent, min_long_percent, max_short_percent, min_short_percent,
			max_profit_percent, min_profit_percent,
			long_percent_change, short_percent_change, profit_usdt, profit_percent, portfolio_before,
			long_position_id, short_position_id, score, exit_reason, error_description,
			close_at_breakeven, averaging_count,
			entry_time, updated_time, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
			$41, $42, $43, $44, $45, $46, $47, $48, $49, $50
		)
		RETURNING id`

	pair.CreatedAt = time.Now()
	if pair.UpdatedTime.IsZero() {
		pair.UpdatedTime = pair.CreatedAt
	}

	args := append(pairArgs(pair), pair.CreatedAt)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&pair.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPairExists
		}
		return err
	}
	return nil
}

// Update перезаписывает пару по uuid.
func (r *PairRepository) Update(ctx context.Context, pair *models.Pair) error {
	query := `
		UPDATE pairs SET
			ticker_a = $2, ticker_b = $3, pair_name = $4, status = $5,
			entry_z_score = $6, entry_correlation = $7, entry_adf_p_value = $8, entry_p_value = $9, entry_r_squared = $10,
			entry_spread = $11, entry_mean = $12, entry_std = $13, entry_alpha = $14, entry_beta = $15,
			entry_price_a = $16, entry_price_b = $17,
			current_z_score = $18, current_correlation = $19, current_adf_p_value = $20, current_p_value = $21,
			current_r_squared = $22, current_spread = $23, current_price_a = $24, current_price_b = $25,
			max_z = $26, min_z = $27, max_correlation = $28, min_correlation = $29,
			max_long_percent = $30, min_long_percent = $31, max_short_percent = $32, min_short_percent = $33,
			max_profit_percent = $34, min_profit_percent = $35,
			long_percent_change = $36, short_percent_change = $37, profit_usdt = $38, profit_percent = $39,
			portfolio_before = $40,
			long_position_id = $41, short_position_id = $42, score = $43, exit_reason = $44,
			error_description = $45, close_at_breakeven = $46, averaging_count = $47,
			entry_time = $48, updated_time = $49
		WHERE uuid = $1`

	pair.UpdatedTime = time.Now()
	result, err := r.db.ExecContext(ctx, query, pairArgs(pair)...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPairNotFound
	}
	return nil
}

// GetByUUID возвращает пару по uuid.
func (r *PairRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE uuid = $1`
	pair, err := scanPair(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}
	return pair, nil
}

// GetByStatus возвращает пары в указанном статусе, свежие первыми.
func (r *PairRepository) GetByStatus(ctx context.Context, status string) ([]*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE status = $1 ORDER BY created_at DESC`
	return r.queryPairs(ctx, query, status)
}

// GetActive возвращает пары в нетерминальных статусах.
func (r *PairRepository) GetActive(ctx context.Context) ([]*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE status = ANY($1) ORDER BY created_at DESC`
	return r.queryPairs(ctx, query, pq.Array([]string{
		models.PairStatusSelected,
		models.PairStatusObserved,
		models.PairStatusTrading,
	}))
}

// CountByStatus возвращает количество пар в статусе.
func (r *PairRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pairs WHERE status = $1`, status).Scan(&count)
	return count, err
}

// ActiveTickers возвращает тикеры всех пар в нетерминальных статусах.
// Используется скринингом, чтобы не предлагать уже занятые тикеры.
func (r *PairRepository) ActiveTickers(ctx context.Context) ([]string, error) {
	query := `
		SELECT ticker_a, ticker_b
		FROM pairs
		WHERE status = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array([]string{
		models.PairStatusSelected,
		models.PairStatusObserved,
		models.PairStatusTrading,
	}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var tickers []string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		for _, t := range []string{a, b} {
			if !seen[t] {
				seen[t] = true
				tickers = append(tickers, t)
			}
		}
	}
	return tickers, rows.Err()
}

// Delete удаляет пару (кандидат не прошел повторную проверку).
func (r *PairRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pairs WHERE uuid = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPairNotFound
	}
	return nil
}

// DeleteStaleSelected удаляет кандидатов SELECTED старше maxAge:
// их статистика протухла, следующий скрининг найдет актуальных.
func (r *PairRepository) DeleteStaleSelected(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pairs WHERE status = $1 AND created_at < $2`,
		models.PairStatusSelected, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PairRepository) queryPairs(ctx context.Context, query string, args ...interface{}) ([]*models.Pair, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.Pair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// isUniqueViolation проверяет ошибку нарушения уникальности postgres (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
