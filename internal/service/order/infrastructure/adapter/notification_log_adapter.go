package adapter

import (
	"context"

	"shopline/internal/pkg/logger"
	"shopline/internal/service/order/domain"
)

// NotificationLogAdapter 只把通知写进日志，本地开发时代替 Kafka
type NotificationLogAdapter struct{}

func NewNotificationLogAdapter() *NotificationLogAdapter {
	return &NotificationLogAdapter{}
}

func (a *NotificationLogAdapter) Send(ctx context.Context, n domain.Notification) error {
	logger.Ctx(ctx).Info().
		Str("template", string(n.Template)).
		Str("order", n.OrderID).
		Str("to", n.Recipient.Email).
		Interface("variables", n.Variables).
		Msg("notification")
	return nil
}
