package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики слоя исполнения
// ============================================================
//
// Покрывают четыре зоны:
// - планировщик: тики, латентность, задачи по состояниям
// - сверка: принятые/отброшенные дельты, корректирующие ордера
// - персистенция: записи, ошибки записи, зачистки
// - восстановление: успешные и пропущенные задачи

// ============ Метрики планировщика ============

// SchedulerTicks - количество тиков планировщика
var SchedulerTicks = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total number of scheduler ticks",
	},
)

// TickLatency - длительность полного тика
var TickLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "multileg",
		Subsystem: "scheduler",
		Name:      "tick_latency_ms",
		Help:      "Duration of a full scheduler tick in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500},
	},
)

// TasksByState - задачи по состояниям
var TasksByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "multileg",
		Subsystem: "scheduler",
		Name:      "tasks",
		Help:      "Number of registered tasks by state",
	},
	[]string{"state"},
)

// TaskPanics - пойманные паники обработчиков
var TaskPanics = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "scheduler",
		Name:      "task_panics_total",
		Help:      "Number of recovered task handler panics",
	},
	[]string{"symbol"},
)

// ============ Метрики сверки ============

// FillDeltasApplied - принятые приращения филлов
var FillDeltasApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "reconciler",
		Name:      "fill_deltas_applied_total",
		Help:      "Number of fill deltas folded into positions",
	},
	[]string{"symbol", "role"},
)

// FillDeltasDiscarded - отброшенные устаревшие снимки.
// Рост этой метрики означает что биржа шлёт снимки не по порядку.
var FillDeltasDiscarded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "reconciler",
		Name:      "fill_deltas_discarded_total",
		Help:      "Number of stale order snapshots discarded (negative delta)",
	},
	[]string{"symbol"},
)

// RebalanceOrders - выставленные корректирующие ордера хеджа
var RebalanceOrders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "reconciler",
		Name:      "rebalance_orders_total",
		Help:      "Number of corrective hedge orders placed",
	},
	[]string{"symbol", "side"},
)

// VolumeTotal - суммарный исполненный объём
var VolumeTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "execution",
		Name:      "volume_total",
		Help:      "Total executed volume in base asset units",
	},
	[]string{"symbol"},
)

// CyclesTotal - завершённые циклы входа
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "execution",
		Name:      "cycles_total",
		Help:      "Total completed execution cycles",
	},
	[]string{"symbol"},
)

// ============ Метрики персистенции ============

// PersistWrites - записи контекстов
var PersistWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "persist",
		Name:      "writes_total",
		Help:      "Number of context snapshots written",
	},
	[]string{"result"}, // ok, error
)

// PersistSweeps - удалённые архивные снимки
var PersistSweeps = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "persist",
		Name:      "swept_total",
		Help:      "Number of archived snapshots removed by sweep",
	},
)

// ============ Метрики восстановления ============

// RecoveryTasks - итоги восстановления после рестарта
var RecoveryTasks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "recovery",
		Name:      "tasks_total",
		Help:      "Tasks processed during crash recovery",
	},
	[]string{"result"}, // recovered, skipped
)

// ============ Метрики шлюза ============

// GatewayCalls - вызовы шлюза по операциям
var GatewayCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "multileg",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Gateway calls by operation and result",
	},
	[]string{"op", "result"},
)

// GatewayLatency - латентность вызовов шлюза
var GatewayLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "multileg",
		Subsystem: "gateway",
		Name:      "call_latency_ms",
		Help:      "Gateway call latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"op"},
)

// ============ Вспомогательные функции ============

// RecordFillDelta записывает исход сверки одного снимка
func RecordFillDelta(symbol string, role string, result FillResult) {
	if result.Discarded {
		FillDeltasDiscarded.WithLabelValues(symbol).Inc()
		return
	}
	if result.Applied && result.Delta > 0 {
		FillDeltasApplied.WithLabelValues(symbol, role).Inc()
		VolumeTotal.WithLabelValues(symbol).Add(result.Delta)
	}
}

// RecordRebalance записывает корректирующий ордер
func RecordRebalance(symbol, side string) {
	RebalanceOrders.WithLabelValues(symbol, side).Inc()
}

// RecordPersist записывает исход записи контекста
func RecordPersist(err error) {
	if err != nil {
		PersistWrites.WithLabelValues("error").Inc()
	} else {
		PersistWrites.WithLabelValues("ok").Inc()
	}
}

// RecordRecovery записывает исход восстановления одной задачи
func RecordRecovery(recovered bool) {
	if recovered {
		RecoveryTasks.WithLabelValues("recovered").Inc()
	} else {
		RecoveryTasks.WithLabelValues("skipped").Inc()
	}
}

// UpdateTaskStates обновляет gauge задач по состояниям
func UpdateTaskStates(counts map[string]int) {
	TasksByState.Reset()
	for state, n := range counts {
		TasksByState.WithLabelValues(state).Set(float64(n))
	}
}
