package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "statarbitrage"

// Метрики циклов реконсиляции и торговли
var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycles_total",
		Help:      "Количество запущенных циклов по видам",
	}, []string{"kind"})

	cyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycles_skipped_total",
		Help:      "Циклы, пропущенные из-за еще идущего предыдущего",
	}, []string{"kind"})

	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_duration_seconds",
		Help:      "Длительность цикла",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	cycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_errors_total",
		Help:      "Ошибки, прервавшие цикл целиком",
	}, []string{"kind"})

	pairErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pair_errors_total",
		Help:      "Ошибки обработки отдельных пар (цикл продолжился)",
	})

	pairsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pairs_by_status",
		Help:      "Количество пар по статусам",
	}, []string{"status"})

	candidatesScreened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "candidates_screened_total",
		Help:      "Кандидаты, прошедшие через фильтры скрининга",
	})

	candidatesPassed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "candidates_passed_total",
		Help:      "Кандидаты, прошедшие все фильтры",
	})

	tradesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "trades_opened_total",
		Help:      "Открытые сделки",
	})

	tradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "trades_closed_total",
		Help:      "Закрытые сделки по причинам выхода",
	}, []string{"reason"})

	portfolioBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "portfolio_total_balance",
		Help:      "Общий баланс виртуального портфеля, USDT",
	})

	portfolioDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "portfolio_max_drawdown_percent",
		Help:      "Максимальная просадка портфеля, %",
	})
)
