package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// 死信消息头，记录原始位置和失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// DeadLetterTopic 返回 topic 对应的死信主题
func DeadLetterTopic(topic string) string {
	return topic + ".dlt"
}

// FailureHandler 把处理失败的消息转发到死信主题，原始 offset 照常提交
type FailureHandler struct {
	writer *kafka.Writer
}

// NewFailureHandler 的 writer 必须指向死信主题
func NewFailureHandler(writer *kafka.Writer) *FailureHandler {
	return &FailureHandler{writer: writer}
}

func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dead := DeadLetterMessage(msg, cause)
	if err := h.writer.WriteMessages(ctx, dead); err != nil {
		log.Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("failed to forward message to dead letter topic, message is lost")
		return
	}
	log.Warn().Err(cause).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("message moved to dead letter topic")
}

// DeadLetterMessage 复制原消息（包括追踪头）并附上失败信息
func DeadLetterMessage(msg kafka.Message, cause error) kafka.Message {
	headers := make(KafkaHeaderCarrier, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers.Set(HeaderOriginalTopic, msg.Topic)
	headers.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	headers.Set(HeaderExceptionMessage, cause.Error())
	return kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
