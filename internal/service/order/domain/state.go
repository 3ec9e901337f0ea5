// internal/service/order/domain/state.go
package domain

// Status 定义了订单的生命周期状态。
// 是否已确认（validAt）与 Status 正交：一个 CREATED 订单可以是已确认、等待付款的。
type Status string

const (
	StatusCreated   Status = "CREATED"   // 已下单
	StatusPrepared  Status = "PREPARED"  // 已备货
	StatusCollect   Status = "COLLECT"   // 可取货
	StatusCompleted Status = "COMPLETED" // 已完成
	StatusCanceled  Status = "CANCELED"  // 已取消，订单号保留
	StatusDeleted   Status = "DELETED"   // 未分配订单号就付款失败
)

// IncludesStock 报告该状态下订单是否占用库存、时段和座位
func (s Status) IncludesStock() bool {
	return s != StatusCanceled && s != StatusDeleted
}

func (s Status) Known() bool {
	switch s {
	case StatusCreated, StatusPrepared, StatusCollect, StatusCompleted, StatusCanceled, StatusDeleted:
		return true
	}
	return false
}

// PaymentMethod 决定订单确认时需要哪种后续处理
type PaymentMethod string

const (
	PaymentMethodTransfer    PaymentMethod = "transfer"
	PaymentMethodPointOfSale PaymentMethod = "point_of_sale"
	PaymentMethodOnline      PaymentMethod = "online"
)

// PaymentStatus 是支付回调带来的状态
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusReversed  PaymentStatus = "reversed" // 例如拒付被撤销
	PaymentStatusPending   PaymentStatus = "pending"
)
