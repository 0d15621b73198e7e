package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"statarbitrage/internal/config"
	"statarbitrage/internal/events"
	"statarbitrage/internal/lifecycle"
	"statarbitrage/internal/portfolio"
	"statarbitrage/internal/provider"
	"statarbitrage/internal/repository"
	"statarbitrage/internal/scheduler"
	"statarbitrage/internal/screening"
	"statarbitrage/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "конфигурация: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("сервис остановлен с ошибкой", zap.Error(err))
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============ БД ============
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("открытие БД: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("подключение к БД: %w", err)
	}

	settingsRepo := repository.NewSettingsRepository(db)
	pairRepo := repository.NewPairRepository(db)
	portfolioRepo := repository.NewPortfolioRepository(db)
	positionRepo := repository.NewPositionRepository(db)

	// ============ Провайдеры ============
	apiKey, err := cfg.ProviderAPIKey()
	if err != nil {
		return fmt.Errorf("API-ключ провайдеров: %w", err)
	}
	marketData := provider.NewMarketDataClient(cfg.Providers.MarketDataURL, cfg.Providers.MarketDataTimeout, apiKey, log)
	stats := provider.NewStatsClient(cfg.Providers.StatsURL, cfg.Providers.StatsTimeout, apiKey, log)

	// ============ Портфель ============
	var manager *portfolio.Manager
	if snapshot, err := portfolioRepo.Latest(ctx); err == nil {
		manager = portfolio.Restore(snapshot, log)
		log.Info("портфель восстановлен из снимка",
			zap.String("total", snapshot.TotalBalance.String()))
	} else if errors.Is(err, repository.ErrPortfolioNotFound) {
		manager = portfolio.NewManager(decimal.NewFromFloat(cfg.Portfolio.InitialBalance), log)
		log.Info("создан новый портфель",
			zap.Float64("initial_balance", cfg.Portfolio.InitialBalance))
	} else {
		return fmt.Errorf("загрузка портфеля: %w", err)
	}
	trading := portfolio.NewVirtualProvider(manager, marketData, positionRepo, log)
	if restored, err := trading.LoadOpenPositions(ctx); err != nil {
		return fmt.Errorf("восстановление позиций: %w", err)
	} else if restored > 0 {
		log.Info("открытые позиции восстановлены из журнала", zap.Int("count", restored))
	}

	// ============ События ============
	hub := events.NewHub(log)
	go hub.Run(ctx.Done())
	dispatcher := events.NewDispatcher(256, log, events.NewHubSink(hub), events.NewLogSink(log))
	go dispatcher.Run(ctx)

	// ============ Жизненный цикл и скрининг ============
	engine := lifecycle.NewEngine(marketData, stats, trading, pairRepo, dispatcher, log)
	pipeline := screening.NewPipeline(marketData, stats, log)

	sched := scheduler.New(scheduler.Config{
		UpdateInterval:   cfg.Scheduler.UpdateInterval,
		MaintainInterval: cfg.Scheduler.MaintainInterval,
		StaleSelectedAge: cfg.Scheduler.StaleSelectedAge,
		MaintainWait:     cfg.Scheduler.MaintainWait,
		TickTimeout:      cfg.Scheduler.TickTimeout,
	}, settingsRepo, pairRepo, pipeline, engine, trading, portfolioRepo, log)
	go sched.Run(ctx)

	// ============ HTTP: метрики, здоровье, события ============
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP сервер запущен", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("получен сигнал остановки")
	case err := <-errCh:
		return fmt.Errorf("HTTP сервер: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP сервер не остановился штатно", zap.Error(err))
	}

	// Финальный снимок портфеля перед выходом
	if err := portfolioRepo.SaveSnapshot(shutdownCtx, manager.CurrentPortfolio()); err != nil {
		log.Warn("финальный снимок портфеля не сохранен", zap.Error(err))
	}

	log.Info("сервис остановлен")
	return nil
}
