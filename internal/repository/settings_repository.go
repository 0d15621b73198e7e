package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"statarbitrage/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingsNotFound = errors.New("settings not found")
)

// SettingsRepository - работа с таблицей settings.
// Настройки хранятся одной строкой (id=1) как JSONB документ:
// они всегда читаются и пишутся целым снимком, а миграция на каждую
// новую ручку не нужна.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает глобальные настройки (всегда id=1, одна запись).
// Если записи нет, создает её с дефолтными значениями.
func (r *SettingsRepository) Get(ctx context.Context) (models.Settings, error) {
	query := `
		SELECT data, updated_at
		FROM settings
		WHERE id = 1`

	var data []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query).Scan(&data, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.createDefault(ctx)
		}
		return models.Settings{}, err
	}

	var settings models.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return models.Settings{}, err
	}
	settings.ID = 1
	settings.UpdatedAt = updatedAt
	return settings, nil
}

// Update сохраняет настройки целиком.
func (r *SettingsRepository) Update(ctx context.Context, settings models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	settings.ID = 1
	settings.UpdatedAt = time.Now()
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	query := `
		UPDATE settings
		SET data = $1, updated_at = $2
		WHERE id = 1`

	result, err := r.db.ExecContext(ctx, query, data, settings.UpdatedAt)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func (r *SettingsRepository) createDefault(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	settings.UpdatedAt = time.Now()
	data, err := json.Marshal(settings)
	if err != nil {
		return models.Settings{}, err
	}

	query := `
		INSERT INTO settings (id, data, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, data, settings.UpdatedAt); err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}
