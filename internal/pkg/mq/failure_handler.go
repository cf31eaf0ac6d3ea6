package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/logger"
)

// 死信消息携带的原始位置与失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 把处理失败的消息转发到死信主题。
type FailureHandler struct {
	dlt Writer
}

func NewFailureHandler(dlt Writer) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

// Handle 转发失败消息；转发本身失败时只能记录日志，offset 仍由调用方提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	log := logger.Ctx(ctx)
	if h == nil || h.dlt == nil {
		log.Error().Err(cause).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("message processing failed and no dead letter topic is configured")
		return
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)
	err := h.dlt.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		log.Error().Err(err).
			Str("cause", cause.Error()).
			Str("original_topic", msg.Topic).
			Msg("CRITICAL: failed to forward message to dead letter topic")
		return
	}
	log.Warn().
		Str("original_topic", msg.Topic).
		Int64("original_offset", msg.Offset).
		Str("reason", cause.Error()).
		Msg("message moved to dead letter topic")
}
