// internal/service/order/numbering/assigner.go
package numbering

import (
	"context"

	"shopline/internal/pkg/metrics"
	"shopline/internal/service/order/domain"
)

// Assigner 按 webshop 的编号模式分配订单号
type Assigner struct {
	counter *Counter
	store   MaxNumberStore
}

func NewAssigner(counter *Counter, store MaxNumberStore) *Assigner {
	return &Assigner{counter: counter, store: store}
}

// Assign 为 webshop 分配下一个订单号，顺序模式必须在 domain.QueueKey(w.ID) 内调用
func (a *Assigner) Assign(ctx context.Context, w *domain.Webshop) (int64, error) {
	if w.Meta.NumberingMode == domain.NumberingRandom {
		metrics.NumbersAssigned.WithLabelValues(string(domain.NumberingRandom)).Inc()
		return Random(), nil
	}
	n, err := a.counter.Next(ctx, w.ID, StartFromStore(a.store, w.ID, w.Meta.StartNumber))
	if err != nil {
		return 0, err
	}
	metrics.NumbersAssigned.WithLabelValues(string(domain.NumberingSequential)).Inc()
	return n, nil
}

// Reset 丢弃 webshop 的编号缓存，下一次分配会重新读取最大值
func (a *Assigner) Reset(ctx context.Context, webshopID string) error {
	return a.counter.ResetNumbers(ctx, webshopID)
}
