package port

import (
	"context"
	"shopline/internal/service/order/domain"
)

// NotificationProducer 是邮件通知的出站端口。
// 从订单生命周期的角度看它是 fire-and-forget 的：投递失败只记录日志。
type NotificationProducer interface {
	Send(ctx context.Context, notification domain.Notification) error
}
