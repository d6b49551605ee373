package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра ценообразования
// ============================================================

// ============ Метрики латентности ============

// CycleLatency - длительность одного цикла конвейера
var CycleLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "cycle_latency_ms",
		Help:      "Duration of one orderbook pipeline cycle in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"asset_pair"},
)

// ============ Счётчики ============

// OrderbooksReceived - полученные стаканы по биржам
var OrderbooksReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "orderbooks_received_total",
		Help:      "Total number of external orderbooks received",
	},
	[]string{"asset_pair", "exchange"},
)

// OrderbooksRejected - отброшенные некорректные стаканы
var OrderbooksRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "orderbooks_rejected_total",
		Help:      "Total number of malformed orderbooks dropped before the pipeline",
	},
	[]string{"exchange"},
)

// OutliersDetected - биржи, признанные выбросом на цикле
var OutliersDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "outliers_total",
		Help:      "Total number of cycles where an exchange was an outlier",
	},
	[]string{"asset_pair", "exchange"},
)

// RepeatedProblems - переходы биржи в состояние повторяющейся проблемы
var RepeatedProblems = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "repeated_problem_promotions_total",
		Help:      "Total number of exchanges promoted to repeated problem",
	},
	[]string{"asset_pair", "exchange"},
)

// PrimarySwitches - смены первичной биржи
var PrimarySwitches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "primary_switches_total",
		Help:      "Total number of primary exchange switches",
	},
	[]string{"asset_pair"},
)

// InvariantViolations - нарушения инвариантов и паники цикла
var InvariantViolations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "invariant_violations_total",
		Help:      "Total number of internal invariant violations",
	},
	[]string{"asset_pair", "kind"},
)

// SpotQuotesBuffered - спотовые тики, отложенные из-за отрицательного спреда
var SpotQuotesBuffered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "spot_quotes_buffered_total",
		Help:      "Total number of spot ticks buffered to avoid a crossed quote",
	},
	[]string{"asset_pair"},
)

// ============ Gauges ============

// TradingStopped - 1 если новые сделки по паре запрещены
var TradingStopped = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "marketmaker",
		Subsystem: "pricing",
		Name:      "trading_stopped",
		Help:      "Whether new trades are stopped for the asset pair (1 = stopped)",
	},
	[]string{"asset_pair"},
)

// ============ Helper функции ============

// RecordCycleLatency записывает длительность цикла
func RecordCycleLatency(assetPairID string, latencyMs float64) {
	CycleLatency.WithLabelValues(assetPairID).Observe(latencyMs)
}

// RecordOrderbookReceived увеличивает счётчик полученных стаканов
func RecordOrderbookReceived(assetPairID, exchange string) {
	OrderbooksReceived.WithLabelValues(assetPairID, exchange).Inc()
}

// RecordOrderbookRejected увеличивает счётчик отброшенных стаканов
func RecordOrderbookRejected(exchange string) {
	OrderbooksRejected.WithLabelValues(exchange).Inc()
}

// RecordOutlier отмечает выброс
func RecordOutlier(assetPairID, exchange string) {
	OutliersDetected.WithLabelValues(assetPairID, exchange).Inc()
}

// RecordRepeatedProblem отмечает переход в повторяющуюся проблему
func RecordRepeatedProblem(assetPairID, exchange string) {
	RepeatedProblems.WithLabelValues(assetPairID, exchange).Inc()
}

// RecordPrimarySwitch отмечает смену первичной биржи
func RecordPrimarySwitch(assetPairID string) {
	PrimarySwitches.WithLabelValues(assetPairID).Inc()
}

// RecordInvariantViolation отмечает нарушение инварианта
func RecordInvariantViolation(assetPairID, kind string) {
	InvariantViolations.WithLabelValues(assetPairID, kind).Inc()
}

// RecordSpotQuoteBuffered отмечает отложенный спотовый тик
func RecordSpotQuoteBuffered(assetPairID string) {
	SpotQuotesBuffered.WithLabelValues(assetPairID).Inc()
}

// SetTradingStopped обновляет состояние предохранителя
func SetTradingStopped(assetPairID string, stopped bool) {
	v := 0.0
	if stopped {
		v = 1.0
	}
	TradingStopped.WithLabelValues(assetPairID).Set(v)
}
