package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/service/order/domain/port"
)

// StripePaymentAdapter 通过 Stripe PaymentIntent 实现 port.PaymentGateway。
type StripePaymentAdapter struct {
	api    *client.API
	tracer trace.Tracer
}

// StripeConfig 是构造适配器所需的参数；APIBase 为空时使用 Stripe 官方地址
type StripeConfig struct {
	SecretKey string
	APIBase   string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

func NewStripePaymentAdapter(cfg StripeConfig, tracer trace.Tracer) *StripePaymentAdapter {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{log: cfg.Logger},
	}
	if cfg.APIBase != "" {
		backendCfg.URL = stripe.String(cfg.APIBase)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	api := client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripePaymentAdapter{api: api, tracer: tracer}
}

// Authorize 创建一个 PaymentIntent，返回其 client secret
func (a *StripePaymentAdapter) Authorize(ctx context.Context, req port.AuthorizeRequest) (string, error) {
	ctx, span := a.tracer.Start(ctx, "stripe.PaymentIntents.New", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int64("payment.amount_minor", req.AmountMinor),
		attribute.String("payment.currency", req.Currency),
	)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddMetadata("order_id", req.OrderID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := a.api.PaymentIntents.New(params)
	if err != nil {
		perr := classifyStripeError(err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, string(perr.Kind))
		return "", perr
	}
	return intent.ClientSecret, nil
}

// classifyStripeError 卡片错误和其余 4xx 视为拒绝；api_error、429、5xx 以及传输错误视为不可用
func classifyStripeError(err error) *port.PaymentError {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &port.PaymentError{Kind: port.FailureUnavailable, Reason: err.Error(), Err: err}
	}
	perr := &port.PaymentError{Reason: se.Msg, Code: string(se.Code), Err: err}
	if perr.Reason == "" {
		perr.Reason = string(se.Type)
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		perr.Kind = port.FailureRejected
	case se.Type == stripe.ErrorTypeAPI,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError:
		perr.Kind = port.FailureUnavailable
	case se.HTTPStatusCode >= http.StatusBadRequest:
		perr.Kind = port.FailureRejected
	default:
		perr.Kind = port.FailureUnavailable
	}
	return perr
}

// stripeLogger 把 stripe-go 的日志接到 zerolog 上
type stripeLogger struct {
	log zerolog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l *stripeLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l *stripeLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
