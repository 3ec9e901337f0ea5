// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"shopline/internal/pkg/logger"
	"shopline/internal/pkg/mq"
)

// DltConsumerAdapter 监听死信主题并记录日志
type DltConsumerAdapter struct {
	reader  *kafka.Reader
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewDltConsumerAdapter(reader *kafka.Reader) *DltConsumerAdapter {
	return &DltConsumerAdapter{reader: reader}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("dlt consumer started")
		for !a.stopped.Load() {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("dlt consumer shutting down")
					return
				}
				continue
			}

			logDeadLetter(ctx, msg)

			// 死信只需要记录，记录完就提交
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit dead letter")
			}
		}
	}()
	return nil
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("close dlt reader")
	}
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("dlt consumer stopped")
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := mq.KafkaHeaderCarrier(msg.Headers)
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers.Get(mq.HeaderOriginalTopic)).
		Str("original_partition", headers.Get(mq.HeaderOriginalPartition)).
		Str("original_offset", headers.Get(mq.HeaderOriginalOffset)).
		Str("exception_fqcn", headers.Get(mq.HeaderExceptionFqcn)).
		Str("exception_message", headers.Get(mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("CRITICAL: dead letter message received")
}
