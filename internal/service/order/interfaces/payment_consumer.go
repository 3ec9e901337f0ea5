// internal/service/order/interfaces/payment_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shopline/internal/pkg/logger"
	"shopline/internal/pkg/mq"
	"shopline/internal/service/order/domain"
)

// PaymentEventHandler 是消费者驱动的应用服务用例
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event *domain.PaymentStatusChanged) error
}

// PaymentConsumerAdapter 监听支付状态变化主题并驱动应用服务。
// 处理失败的消息交给 FailureHandler 转入死信主题，offset 照常提交。
type PaymentConsumerAdapter struct {
	reader         *kafka.Reader
	handler        PaymentEventHandler
	failureHandler *mq.FailureHandler
	wg             sync.WaitGroup
	stopped        atomic.Bool
}

func NewPaymentConsumerAdapter(reader *kafka.Reader, handler PaymentEventHandler, failureHandler *mq.FailureHandler) *PaymentConsumerAdapter {
	return &PaymentConsumerAdapter{
		reader:         reader,
		handler:        handler,
		failureHandler: failureHandler,
	}
}

// Start 在后台开始消费，ctx 取消或 Stop 之后退出
func (a *PaymentConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("payment consumer started")
		for !a.stopped.Load() {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("payment consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractContext(ctx, msg)
			if err := a.processMessage(msgCtx, msg); err != nil {
				if a.failureHandler != nil {
					a.failureHandler.Handle(msgCtx, msg, err)
				} else {
					logger.Ctx(msgCtx).Error().Err(err).Int64("offset", msg.Offset).Msg("payment event dropped")
				}
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 关闭 reader 并等待消费循环退出
func (a *PaymentConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("close payment reader")
	}
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("payment consumer stopped")
}

func (a *PaymentConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var event domain.PaymentStatusChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "decode payment event")
	}
	if event.PaymentID == "" && event.OrderID == "" {
		return errors.New("payment event without payment or order id")
	}
	return a.handler.HandlePaymentEvent(ctx, &event)
}
