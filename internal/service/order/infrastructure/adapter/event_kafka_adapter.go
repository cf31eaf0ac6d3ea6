package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/domain"
)

// EventKafkaAdapter 把订单事件写入 Kafka，以订单 ID 作为分区键保证单订单有序。
type EventKafkaAdapter struct {
	writer mq.Writer
}

// NewEventKafkaAdapter 创建一个新的事件生产者适配器。
func NewEventKafkaAdapter(writer mq.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(event.OrderID), payload,
		kafka.Header{Key: "event-type", Value: []byte(event.Type)})
}

// Close 关闭底层的Kafka writer。
func (a *EventKafkaAdapter) Close() error {
	if c, ok := a.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
