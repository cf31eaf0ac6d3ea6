package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/domain"
)

// PaymentResult 是支付回调主题上的消息体
type PaymentResult struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentStatusUpdater 是消费者驱动的应用服务能力
type PaymentStatusUpdater interface {
	TransitionPaymentStatus(ctx context.Context, id, rawStatus string) (*domain.Order, error)
}

// PaymentResultConsumer 监听支付结果并写回订单的支付状态。
// 消息本身有问题（格式错误、订单不存在、非法状态流转）时转入死信主题并提交 offset；
// 其他错误（数据库、锁等）按指数退避原地重试，成功前不提交。
type PaymentResultConsumer struct {
	reader          mq.Reader
	updater         PaymentStatusUpdater
	failureHandler  *mq.FailureHandler
	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
}

func NewPaymentResultConsumer(reader mq.Reader, updater PaymentStatusUpdater, failureHandler *mq.FailureHandler) *PaymentResultConsumer {
	return &PaymentResultConsumer{
		reader:          reader,
		updater:         updater,
		failureHandler:  failureHandler,
		retryBackoff:    time.Second,
		maxRetryBackoff: 30 * time.Second,
	}
}

// permanent 判断错误是否由消息内容决定，重试也不会成功
func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

// Run 阻塞消费直到 ctx 结束
func (c *PaymentResultConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("payment result consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to close payment result reader")
		}
		logger.Ctx(ctx).Info().Msg("payment result consumer stopped")
	}()

	for {
		// 使用 FetchMessage 而不是 ReadMessage，以便手动控制提交
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch payment result, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryBackoff):
			}
			continue
		}

		if !c.process(ctx, msg) {
			// 重试中被关闭，不提交，重启后从该消息继续
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit payment result")
		}
	}
}

// process 处理单条消息直到成功或移交死信；返回 false 表示 ctx 在重试期间结束
func (c *PaymentResultConsumer) process(ctx context.Context, msg kafka.Message) bool {
	msgCtx := mq.ExtractContext(ctx, msg)
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := c.handle(msgCtx, msg)
		if err == nil {
			return true
		}
		if permanent(err) {
			c.failureHandler.Handle(msgCtx, msg, err)
			return true
		}
		logger.Ctx(msgCtx).Warn().Err(err).
			Int64("offset", msg.Offset).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("payment result failed, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; c.maxRetryBackoff > 0 && backoff > c.maxRetryBackoff {
			backoff = c.maxRetryBackoff
		}
	}
}

func (c *PaymentResultConsumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer(serviceName).Start(ctx, "consume payment result", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	var result PaymentResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		span.RecordError(err)
		return &domain.ValidationError{Field: "payload", Reason: "invalid payment result: " + err.Error()}
	}
	if strings.TrimSpace(result.OrderID) == "" {
		return &domain.ValidationError{Field: "orderId", Reason: "is required"}
	}
	span.SetAttributes(attribute.String("order.id", result.OrderID))

	order, err := c.updater.TransitionPaymentStatus(ctx, result.OrderID, result.PaymentStatus)
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("payment_status", string(order.PaymentStatus)).
		Str("reason", result.Reason).
		Msg("payment result applied")
	return nil
}
