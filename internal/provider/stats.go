package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/retry"
	"statarbitrage/pkg/utils"
)

// StatsClient — HTTP клиент внешнего движка статистики: коинтеграционные
// тесты, регрессия, история Z-score. Численные методы живут там,
// здесь только транспорт.
type StatsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Config
	log     *utils.Logger
}

// NewStatsClient создает клиента движка статистики.
// Таймаут больше, чем у котировок: пакетный анализ считается долго.
func NewStatsClient(baseURL string, timeout time.Duration, apiKey string, log *utils.Logger) *StatsClient {
	return &StatsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retry:   retry.NetworkConfig(),
		log:     log.Named("stats"),
	}
}

type analyzeRequest struct {
	Candles  map[string][]models.Candle `json:"candles"`
	Settings analyzeSettings            `json:"settings"`
	TickerA  string                     `json:"ticker_a,omitempty"`
	TickerB  string                     `json:"ticker_b,omitempty"`
}

// analyzeSettings — подмножество настроек, которое нужно движку
type analyzeSettings struct {
	MinWindowSize int     `json:"min_window_size"`
	MaxAdfValue   float64 `json:"max_adf_value"`
	MaxPValue     float64 `json:"max_p_value"`
}

// DiscoverPairs запускает пакетный анализ всех комбинаций тикеров.
// Ошибка анализа отдельной пары приходит в поле Error её снимка,
// батч при этом успешен.
func (c *StatsClient) DiscoverPairs(ctx context.Context, candles map[string][]models.Candle, settings models.Settings) ([]models.CandidateSnapshot, error) {
	req := analyzeRequest{
		Candles:  candles,
		Settings: toAnalyzeSettings(settings),
	}

	var candidates []models.CandidateSnapshot
	if err := c.postJSON(ctx, "/api/v1/analyze/discover", req, &candidates); err != nil {
		return nil, fmt.Errorf("пакетный анализ: %w", err)
	}

	failed := 0
	for i := range candidates {
		if candidates[i].Error != "" {
			failed++
		}
	}
	c.log.Info("пакетный анализ завершен",
		zap.Int("tickers", len(candles)),
		zap.Int("pairs", len(candidates)),
		zap.Int("failed", failed))
	return candidates, nil
}

// AnalyzePair анализирует одну пару тикеров.
func (c *StatsClient) AnalyzePair(ctx context.Context, tickerA, tickerB string, candles map[string][]models.Candle, settings models.Settings) (*models.CandidateSnapshot, error) {
	req := analyzeRequest{
		Candles:  candles,
		Settings: toAnalyzeSettings(settings),
		TickerA:  tickerA,
		TickerB:  tickerB,
	}

	var snapshot models.CandidateSnapshot
	if err := c.postJSON(ctx, "/api/v1/analyze/pair", req, &snapshot); err != nil {
		return nil, fmt.Errorf("анализ %s/%s: %w", tickerA, tickerB, err)
	}
	return &snapshot, nil
}

func toAnalyzeSettings(s models.Settings) analyzeSettings {
	return analyzeSettings{
		MinWindowSize: s.MinWindowSize,
		MaxAdfValue:   s.MaxAdfValue,
		MaxPValue:     s.MaxPValue,
	}
}

func (c *StatsClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(err)
	}
	endpoint := c.baseURL + path

	cfg := c.retry
	cfg.RetryIf = retry.RetryIfNotPermanent
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("повтор запроса",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, path)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("декодирование %s: %w", path, err))
		}
		return nil
	}, cfg)
}
