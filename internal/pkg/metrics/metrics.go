// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePending 当前每个串行队列 key 上排队（含执行中）的任务数
	QueuePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shopline",
		Name:      "serial_queue_pending_tasks",
		Help:      "Number of tasks waiting or running per serial queue key prefix.",
	}, []string{"prefix"})

	QueueTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopline",
		Name:      "serial_queue_task_duration_seconds",
		Help:      "Duration of serial queue tasks.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"prefix", "result"})

	NumbersAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopline",
		Name:      "order_numbers_assigned_total",
		Help:      "Order numbers handed out, by numbering mode.",
	}, []string{"mode"})

	StockDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopline",
		Name:      "stock_deltas_total",
		Help:      "Stock ledger deltas applied, by kind.",
	}, []string{"kind"})

	TicketsChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopline",
		Name:      "tickets_changed_total",
		Help:      "Tickets created, updated, revived or deleted by the ticket issuer.",
	}, []string{"op"})

	// ClampedCounters 计数器下溢被截断为 0 的次数，非零说明增量计算存在漂移
	ClampedCounters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopline",
		Name:      "stock_counter_clamped_total",
		Help:      "Times a stock or time slot counter underflowed and was clamped to zero.",
	}, []string{"kind"})
)

// KeyPrefix 把 "webshop-stock/<id>" 归一为 "webshop-stock"，避免 label 基数爆炸
func KeyPrefix(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}
