package saga

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"shopline/internal/service/order/domain"
)

// Lifecycle 是付款确认链条需要的订单生命周期操作，由应用服务实现
type Lifecycle interface {
	UndoPaymentFailed(ctx context.Context, orderID string) (*domain.Order, error)
	IssueTickets(ctx context.Context, orderID string) (*domain.Order, domain.TicketPlan, error)
	MarkValid(ctx context.Context, orderID string, tickets []domain.Ticket) (*domain.Order, error)
	NotifyPaid(ctx context.Context, order *domain.Order, createdTickets bool)
}

// PaymentContext 在付款确认链条中传递上下文数据
type PaymentContext struct {
	Ctx       context.Context
	Order     *domain.Order
	Tracer    trace.Tracer
	Lifecycle Lifecycle

	// Plan 是本次签发门票的结果，由 TicketHandler 写入
	Plan domain.TicketPlan
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(pc *PaymentContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(pc *PaymentContext) error {
	if h.next != nil {
		return h.next.Handle(pc)
	}
	return nil
}

// NewMarkPaidChain 组装付款确认链：恢复已删除订单 -> 签发门票 -> 确认或通知
func NewMarkPaidChain() Handler {
	chain := new(RestoreHandler)
	chain.
		SetNext(new(TicketHandler)).
		SetNext(new(ConfirmHandler))
	return chain
}
