package port

import (
	"context"
	"shopline/internal/service/order/domain"
)

// StockFeed 接收账本增量，用于向后台实时推送库存变化。
type StockFeed interface {
	Publish(ctx context.Context, webshopID string, deltas []domain.StockDelta)
}
