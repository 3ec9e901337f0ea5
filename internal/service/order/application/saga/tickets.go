package saga

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TicketHandler 签发或合并门票。必须在库存和编号处理之后执行。
type TicketHandler struct {
	NextHandler
}

func (h *TicketHandler) Handle(pc *PaymentContext) error {
	ctx, span := pc.Tracer.Start(pc.Ctx, "saga.IssueTickets")
	defer span.End()

	order, plan, err := pc.Lifecycle.IssueTickets(ctx, pc.Order.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ticket issuance failed")
		return err
	}
	pc.Order = order
	pc.Plan = plan

	// 取消的订单收到付款：不发门票也不通知，由商家决定是否恢复订单
	if !order.IncludesStock() {
		span.AddEvent("Order does not count toward stock, chain stopped.")
		return nil
	}

	span.SetAttributes(
		attribute.Int("tickets.total", len(plan.Tickets)),
		attribute.Int("tickets.created", len(plan.Create)),
		attribute.Bool("tickets.created_new", plan.DidCreateNew),
	)
	return h.executeNext(pc)
}
