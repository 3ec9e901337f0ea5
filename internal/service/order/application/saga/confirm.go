package saga

import (
	"go.opentelemetry.io/otel/codes"
)

// ConfirmHandler 是链条的最后一步：尚未确认的订单走 MarkValid，
// 已确认的订单（例如已经确认的转账订单）只发送付款通知。
type ConfirmHandler struct {
	NextHandler
}

func (h *ConfirmHandler) Handle(pc *PaymentContext) error {
	ctx, span := pc.Tracer.Start(pc.Ctx, "saga.Confirm")
	defer span.End()

	if !pc.Order.IsValid() {
		order, err := pc.Lifecycle.MarkValid(ctx, pc.Order.ID, pc.Plan.Tickets)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Order validation failed")
			return err
		}
		pc.Order = order
		return h.executeNext(pc)
	}

	pc.Lifecycle.NotifyPaid(ctx, pc.Order, pc.Plan.DidCreateNew)
	span.AddEvent("Payment notification scheduled.")
	return h.executeNext(pc)
}
