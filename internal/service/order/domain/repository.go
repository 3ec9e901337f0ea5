// internal/service/order/domain/repository.go
package domain

import "context"

// WebshopRepository 定义了 webshop 聚合的持久化接口。
// 没有 compare-and-swap：调用方必须在串行队列里重新加载后再修改。
type WebshopRepository interface {
	FindByID(ctx context.Context, id string) (*Webshop, error)
	Save(ctx context.Context, webshop *Webshop) error
	// ApplyStockDeltas 原子地把账本增量应用到计数器和座位集合上
	ApplyStockDeltas(ctx context.Context, webshopID string, deltas []StockDelta) error
}

// OrderRepository 定义了订单聚合的持久化接口。
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	// MaxNumber 返回 webshop 中小于 below 的最大订单号，ok 为 false 表示还没有订单号
	MaxNumber(ctx context.Context, webshopID string, below int64) (number int64, ok bool, err error)
	// ListValid 返回已确认的订单，按 validAt 升序
	ListValid(ctx context.Context, webshopID string) ([]*Order, error)
}

// TicketRepository 定义了门票的持久化接口。
type TicketRepository interface {
	// FindByOrder 返回订单的全部门票，包括软删除的
	FindByOrder(ctx context.Context, orderID string) ([]Ticket, error)
	FindBySecret(ctx context.Context, secret string) (*Ticket, error)
	Save(ctx context.Context, ticket *Ticket) error
	ApplyPlan(ctx context.Context, plan TicketPlan) error
}
