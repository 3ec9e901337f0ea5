package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shopline/internal/pkg/mq"
	"shopline/internal/service/order/domain"
)

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口，
// 把完整的邮件请求发到通知主题，由通知服务渲染模板并投递。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// Send 以订单 ID 为消息 key，同一订单的通知落在同一分区，保持先后顺序
func (a *NotificationKafkaAdapter) Send(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(n.OrderID), payload)
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
