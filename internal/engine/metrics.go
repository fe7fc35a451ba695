package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах
// - Разбор исполнения по терминальным статусам

// ============ Метрики цикла ============

// CyclesTotal - количество завершённых циклов сканирования
var CyclesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of completed scan cycles",
	},
)

// CycleDuration - длительность цикла (скан + анализ + исполнение)
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "crossarb",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full scan cycle in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
)

// OpportunitiesFound - валовые возможности по циклам
var OpportunitiesFound = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "engine",
		Name:      "opportunities_total",
		Help:      "Total number of gross opportunities produced by the scanner",
	},
)

// ============ Метрики исполнения ============

// ExecutionsTotal - терминальные сделки по статусам
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Total number of terminal trades by status",
	},
	[]string{"status"},
)

// TradeProfitQuote - чистый результат терминальной сделки
// Buckets захватывают и убыточные сделки
var TradeProfitQuote = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "trade_profit_quote",
		Help:      "Net profit of a completed trade in quote units",
		Buckets:   []float64{-10, -5, -1, 0, 0.5, 1, 2, 5, 10, 25, 50},
	},
)

// ActiveTrades - текущее количество исполняемых возможностей
var ActiveTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "active_trades",
		Help:      "Current number of opportunities being executed",
	},
)

// ============ Метрики площадок ============

// VenueBalanceUSD - оценка баланса площадки в USD
var VenueBalanceUSD = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "crossarb",
		Subsystem: "venue",
		Name:      "balance_usd",
		Help:      "Estimated venue balance in USD",
	},
	[]string{"venue"},
)

// VenueSnapshotFailures - площадки, не ответившие на снимок балансов
var VenueSnapshotFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "venue",
		Name:      "snapshot_failures_total",
		Help:      "Number of failed balance snapshots by venue",
	},
	[]string{"venue"},
)

// ============ Вспомогательные функции ============

// RecordCycle записывает завершённый цикл
func RecordCycle(durationSeconds float64, opportunities int) {
	CyclesTotal.Inc()
	CycleDuration.Observe(durationSeconds)
	OpportunitiesFound.Add(float64(opportunities))
}

// RecordExecution записывает терминальную сделку
func RecordExecution(status string, profitQuote float64) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	TradeProfitQuote.Observe(profitQuote)
}

// UpdateVenueBalance обновляет оценку баланса площадки
func UpdateVenueBalance(venue string, usd float64) {
	VenueBalanceUSD.WithLabelValues(venue).Set(usd)
}

// RecordSnapshotFailure записывает отказ снимка балансов
func RecordSnapshotFailure(venue string) {
	VenueSnapshotFailures.WithLabelValues(venue).Inc()
}

// UpdateActiveTrades обновляет счётчик активных сделок
func UpdateActiveTrades(count int) {
	ActiveTrades.Set(float64(count))
}
