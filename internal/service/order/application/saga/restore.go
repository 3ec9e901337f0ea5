package saga

import (
	"go.opentelemetry.io/otel/codes"

	"shopline/internal/pkg/logger"
	"shopline/internal/service/order/domain"
)

// RestoreHandler 把因付款失败被删除的订单恢复为 CREATED，并重新计入库存
type RestoreHandler struct {
	NextHandler
}

func (h *RestoreHandler) Handle(pc *PaymentContext) error {
	if pc.Order.Status != domain.StatusDeleted {
		return h.executeNext(pc)
	}

	ctx, span := pc.Tracer.Start(pc.Ctx, "saga.RestoreDeletedOrder")
	defer span.End()

	logger.Ctx(ctx).Info().Str("order", pc.Order.ID).Msg("payment received for deleted order, restoring it")
	order, err := pc.Lifecycle.UndoPaymentFailed(ctx, pc.Order.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to restore deleted order")
		return err
	}
	pc.Order = order
	return h.executeNext(pc)
}
