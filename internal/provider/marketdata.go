package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/retry"
	"statarbitrage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrBadStatus    = errors.New("неожиданный HTTP статус")
	ErrEmptyPayload = errors.New("пустой ответ провайдера")
)

// apiKeyHeader — заголовок аутентификации внешних сервисов.
// Пустой ключ означает провайдера без аутентификации, заголовок не шлется.
const apiKeyHeader = "X-API-Key"

// MarketDataClient — HTTP клиент сервиса котировок.
// Реализует screening.MarketData, lifecycle.MarketData и portfolio.PriceSource.
type MarketDataClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Config
	log     *utils.Logger
}

// NewMarketDataClient создает клиента с ограниченным таймаутом запроса.
func NewMarketDataClient(baseURL string, timeout time.Duration, apiKey string, log *utils.Logger) *MarketDataClient {
	return &MarketDataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retry:   retry.NetworkConfig(),
		log:     log.Named("marketdata"),
	}
}

// GetCandles возвращает свечи одного инструмента.
func (c *MarketDataClient) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	var candles []models.Candle
	if err := c.getJSON(ctx, "/api/v1/candles", q, &candles); err != nil {
		return nil, fmt.Errorf("свечи %s: %w", symbol, err)
	}
	return candles, nil
}

// GetCandlesMap возвращает свечи всех доступных инструментов,
// кроме перечисленных в exclude.
func (c *MarketDataClient) GetCandlesMap(ctx context.Context, timeframe string, limit int, exclude map[string]bool) (map[string][]models.Candle, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	var all map[string][]models.Candle
	if err := c.getJSON(ctx, "/api/v1/candles/map", q, &all); err != nil {
		return nil, err
	}

	result := make(map[string][]models.Candle, len(all))
	for symbol, candles := range all {
		if exclude[strings.ToUpper(symbol)] {
			continue
		}
		result[symbol] = candles
	}
	c.log.Debug("получена карта свечей",
		zap.Int("total", len(all)),
		zap.Int("after_exclude", len(result)))
	return result, nil
}

// GetCurrentPrice возвращает последнюю цену инструмента.
func (c *MarketDataClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var resp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := c.getJSON(ctx, "/api/v1/price", q, &resp); err != nil {
		return 0, fmt.Errorf("цена %s: %w", symbol, err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("%w: цена %s", ErrEmptyPayload, symbol)
	}
	return resp.Price, nil
}

func (c *MarketDataClient) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?" + q.Encode()

	return retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
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
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("декодирование %s: %w", path, err))
		}
		return nil
	}, c.withRetryLog())
}

func (c *MarketDataClient) withRetryLog() retry.Config {
	cfg := c.retry
	cfg.RetryIf = retry.RetryIfNotPermanent
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("повтор запроса",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return cfg
}
