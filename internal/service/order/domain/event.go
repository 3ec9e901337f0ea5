// internal/service/order/domain/event.go
package domain

import "time"

// PaymentStatusChanged 是支付回调在状态变化后发布的事件，
// 订单服务只消费状态变化本身。
type PaymentStatusChanged struct {
	EventID    string        `json:"eventId"`
	PaymentID  string        `json:"paymentId"`
	OrderID    string        `json:"orderId,omitempty"`
	Status     PaymentStatus `json:"status"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// NotificationTemplate 标识一封邮件模板
type NotificationTemplate string

const (
	// 确认订单时已经附带门票
	TemplateTicketsConfirmation NotificationTemplate = "tickets-confirmation"
	// 门票型 webshop，转账尚未到账，到账后再发门票
	TemplateTicketsPendingTransfer NotificationTemplate = "tickets-pending-transfer"
	TemplateOrderConfirmation      NotificationTemplate = "order-confirmation"
	// 附带转账说明的订单确认
	TemplateOrderConfirmationTransfer NotificationTemplate = "order-confirmation-transfer"
	// 已确认的订单收到付款并生成了新门票
	TemplateTicketsAvailable NotificationTemplate = "tickets-available"
	TemplatePaymentReceived  NotificationTemplate = "payment-received"
)

type Recipient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Notification 是交给通知服务的完整邮件请求
type Notification struct {
	Template  NotificationTemplate `json:"template"`
	OrderID   string               `json:"orderId"`
	WebshopID string               `json:"webshopId"`
	Recipient Recipient            `json:"recipient"`
	Variables map[string]string    `json:"variables"`
}
