// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/lock"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/application/saga"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

const tracerName = "order-service"

// Dependencies 是应用服务依赖的出站端口
type Dependencies struct {
	Repo      domain.OrderRepository
	Inventory port.InventoryService
	Payment   port.PaymentGateway
	Publisher port.EventPublisher
	Locker    lock.Locker
	Admission *AdmissionPolicy
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// Options 是应用服务的可调参数
type Options struct {
	// Currency 是服务级的结算币种，例如 usd
	Currency string
	// FailurePolicy 决定库存扣减失败后的处理：record 或 cancel
	FailurePolicy string
	// ProcessingTimeout 是一次下单流程的上限
	ProcessingTimeout time.Duration
	Now               func() time.Time
}

// OrderApplicationService 负责订单生命周期的编排。
type OrderApplicationService struct {
	repo      domain.OrderRepository
	inventory port.InventoryService
	payment   port.PaymentGateway
	publisher port.EventPublisher
	locker    lock.Locker
	admission *AdmissionPolicy
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	currency          string
	failurePolicy     string
	processingTimeout time.Duration
	now               func() time.Time
	chain             saga.Handler
}

func NewOrderApplicationService(deps Dependencies, opts Options) *OrderApplicationService {
	s := &OrderApplicationService{
		repo:              deps.Repo,
		inventory:         deps.Inventory,
		payment:           deps.Payment,
		publisher:         deps.Publisher,
		locker:            deps.Locker,
		admission:         deps.Admission,
		metrics:           deps.Metrics,
		tracer:            deps.Tracer,
		currency:          opts.Currency,
		failurePolicy:     opts.FailurePolicy,
		processingTimeout: opts.ProcessingTimeout,
		now:               opts.Now,
		chain:             saga.NewCreateOrderChain(),
	}
	if s.publisher == nil {
		s.publisher = port.NopPublisher{}
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.currency == "" {
		s.currency = "usd"
	}
	if s.failurePolicy == "" {
		s.failurePolicy = config.InventoryPolicyRecord
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// begin 为一次操作开启 span，返回的 end 负责记录指标、日志与 span 状态
func (s *OrderApplicationService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "app."+op, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(errp *error) {
		defer span.End()
		var err error
		if errp != nil {
			err = *errp
		}
		s.metrics.ObserveOperation(op, started, err)
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isCallerError(err) {
			logger.Ctx(ctx).Debug().Err(err).Str("operation", op).Msg("order operation refused")
		} else {
			logger.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("order operation failed")
		}
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

// publish 尽力发布事件；失败只记录，不影响业务结果
func (s *OrderApplicationService) publish(ctx context.Context, event domain.OrderEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("order_id", event.OrderID).
			Str("event_type", string(event.Type)).
			Msg("order event not delivered")
	}
}

// CreateOrder 先落库再扣库存。库存失败不会让下单失败，按 FailurePolicy 记录或补偿。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (_ *domain.Order, err error) {
	ctx, end := s.begin(ctx, "CreateOrder",
		attribute.String("user.id", req.UserID),
		attribute.Int64("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity))
	defer func() { end(&err) }()

	params := req.toParams()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := s.admission.Admit(params); err != nil {
		return nil, err
	}
	order, err := domain.NewOrder(params, s.now())
	if err != nil {
		return nil, err
	}

	processingCtx := ctx
	if s.processingTimeout > 0 {
		var cancel context.CancelFunc
		processingCtx, cancel = context.WithTimeout(ctx, s.processingTimeout)
		defer cancel()
	}

	orderCtx := &saga.OrderContext{
		Ctx:              processingCtx,
		Order:            order,
		Tracer:           s.tracer,
		Now:              s.now,
		Repo:             s.repo,
		InventoryService: s.inventory,
		Publisher:        s.publisher,
		Metrics:          s.metrics,
	}

	if chainErr := s.chain.Handle(orderCtx); chainErr != nil {
		if orderCtx.Order.ID == "" {
			// 还没有落库，没有任何副作用
			return nil, chainErr
		}
		s.handleInventoryFailure(ctx, orderCtx, chainErr)
	} else {
		logger.Ctx(ctx).Info().
			Str("order_id", orderCtx.Order.ID).
			Str("user_id", orderCtx.Order.UserID).
			Msg("order created and stock decreased")
	}
	return orderCtx.Order.Clone(), nil
}

func (s *OrderApplicationService) handleInventoryFailure(ctx context.Context, orderCtx *saga.OrderContext, cause error) {
	// 调用方的超时不应打断失败记录与补偿
	bg := context.WithoutCancel(ctx)
	order := orderCtx.Order
	s.metrics.InventoryFailed(s.failurePolicy)

	var ie *port.InventoryError
	kind := port.FailureUnavailable
	if errors.As(cause, &ie) {
		kind = ie.Kind
	}
	logger.Ctx(bg).Error().Err(cause).
		Str("order_id", order.ID).
		Int64("product_id", order.ProductID).
		Int("quantity", order.Quantity).
		Str("failure_kind", string(kind)).
		Str("policy", s.failurePolicy).
		Msg("inventory decrease failed after order was persisted")

	if s.failurePolicy == config.InventoryPolicyCancel {
		orderCtx.CompensationReason = "inventory_failed"
		orderCtx.TriggerCompensation(bg)
		return
	}
	s.publish(bg, domain.NewOrderEvent(domain.EventInventoryFailed, order, s.now()).WithReason(cause.Error()))
}

func (s *OrderApplicationService) GetOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, end := s.begin(ctx, "GetOrder", attribute.String("order.id", id))
	defer func() { end(&err) }()
	return s.repo.FindByID(ctx, id)
}

// ListOrders 按过滤条件返回全部匹配的订单，不分页
func (s *OrderApplicationService) ListOrders(ctx context.Context, q ListOrdersQuery) (_ []*domain.Order, err error) {
	ctx, end := s.begin(ctx, "ListOrders")
	defer func() { end(&err) }()

	f, err := q.parse()
	if err != nil {
		return nil, err
	}
	switch f.kind {
	case filterOwner:
		return s.repo.FindByUserID(ctx, f.userID)
	case filterStatus:
		return s.repo.FindByStatus(ctx, f.status)
	case filterOwnerAndStatus:
		return s.repo.FindByUserIDAndStatus(ctx, f.userID, f.status)
	case filterPaymentStatus:
		return s.repo.FindByPaymentStatus(ctx, f.paymentStatus)
	default:
		return s.repo.FindAll(ctx)
	}
}

// TransitionStatus 按流转表推进履约状态
func (s *OrderApplicationService) TransitionStatus(ctx context.Context, id, rawStatus string) (_ *domain.Order, err error) {
	ctx, end := s.begin(ctx, "TransitionStatus", attribute.String("order.id", id))
	defer func() { end(&err) }()

	next, err := domain.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	var previous domain.Status
	updated, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		previous = o.Status
		return o.TransitionTo(next, s.now())
	})
	if err != nil {
		return nil, err
	}
	if previous != updated.Status {
		eventType := domain.EventStatusChanged
		if updated.Status == domain.StatusCancelled {
			eventType = domain.EventOrderCancelled
		}
		s.publish(ctx, domain.NewOrderEvent(eventType, updated, s.now()).WithPrevious(string(previous)))
		logger.Ctx(ctx).Info().Str("order_id", id).
			Str("from", string(previous)).Str("to", string(updated.Status)).
			Msg("order status changed")
	}
	return updated, nil
}

// TransitionPaymentStatus 更新支付状态，与履约状态无关
func (s *OrderApplicationService) TransitionPaymentStatus(ctx context.Context, id, rawStatus string) (_ *domain.Order, err error) {
	ctx, end := s.begin(ctx, "TransitionPaymentStatus", attribute.String("order.id", id))
	defer func() { end(&err) }()

	next, err := domain.ParsePaymentStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	var previous domain.PaymentStatus
	updated, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		previous = o.PaymentStatus
		return o.SetPaymentStatus(next, s.now())
	})
	if err != nil {
		return nil, err
	}
	if previous != updated.PaymentStatus {
		s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentStatusChanged, updated, s.now()).WithPrevious(string(previous)))
		logger.Ctx(ctx).Info().Str("order_id", id).
			Str("from", string(previous)).Str("to", string(updated.PaymentStatus)).
			Msg("payment status changed")
	}
	return updated, nil
}

// CancelOrder 强制取消，对已取消的订单是幂等的
func (s *OrderApplicationService) CancelOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, end := s.begin(ctx, "CancelOrder", attribute.String("order.id", id))
	defer func() { end(&err) }()

	var previous domain.Status
	var changed bool
	updated, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		previous = o.Status
		changed = o.Cancel(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, updated, s.now()).WithPrevious(string(previous)))
		logger.Ctx(ctx).Info().Str("order_id", id).Str("from", string(previous)).Msg("order cancelled")
	}
	return updated, nil
}

// DeleteOrder 硬删除，返回是否确实删除了记录
func (s *OrderApplicationService) DeleteOrder(ctx context.Context, id string) (_ bool, err error) {
	ctx, end := s.begin(ctx, "DeleteOrder", attribute.String("order.id", id))
	defer func() { end(&err) }()

	snapshot, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil || !deleted {
		return false, err
	}
	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderDeleted, snapshot, s.now()))
	logger.Ctx(ctx).Warn().Str("order_id", id).Msg("order deleted")
	return true, nil
}

// InitiatePayment 按服务币种向支付网关发起授权，返回客户端确认支付所需的令牌。
// 不修改订单的支付状态，支付结果由异步回调通过 TransitionPaymentStatus 写回。
func (s *OrderApplicationService) InitiatePayment(ctx context.Context, id string) (_ *PaymentResult, err error) {
	ctx, end := s.begin(ctx, "InitiatePayment", attribute.String("order.id", id))
	defer func() { end(&err) }()

	unlock, err := s.locker.Acquire(ctx, "order:pay:"+id)
	if err != nil {
		return nil, fmt.Errorf("acquire payment lock for order %s: %w", id, err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			logger.Ctx(ctx).Warn().Err(uerr).Str("order_id", id).Msg("failed to release payment lock")
		}
	}()

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	amount, err := domain.MinorUnits(order.TotalAmount, s.currency)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("payment.amount_minor", amount),
		attribute.String("payment.currency", s.currency),
	)

	started := time.Now()
	token, err := s.payment.Authorize(ctx, port.AuthorizeRequest{
		OrderID:        order.ID,
		AmountMinor:    amount,
		Currency:       s.currency,
		IdempotencyKey: paymentIdempotencyKey(order),
		Metadata:       map[string]string{"user_id": order.UserID},
	})
	s.metrics.ObserveGateway("payment", started, err)
	if err != nil {
		var pe *port.PaymentError
		if !errors.As(err, &pe) {
			err = &port.PaymentError{Kind: port.FailureUnavailable, Reason: err.Error(), Err: err}
		}
		return nil, err
	}

	s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentInitiated, order, s.now()))
	logger.Ctx(ctx).Info().Str("order_id", id).Int64("amount_minor", amount).Str("currency", s.currency).Msg("payment authorized")
	return &PaymentResult{OrderID: order.ID, ClientSecret: token}, nil
}

// paymentIdempotencyKey 由订单 ID 与最后修改时间组成：订单未变化时重复请求复用同一个 PaymentIntent，
// 支付状态等变化后会生成新的授权
func paymentIdempotencyKey(o *domain.Order) string {
	return o.ID + ":" + strconv.FormatInt(o.UpdatedAt.UnixMicro(), 10)
}
