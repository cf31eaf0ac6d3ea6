package interfaces

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"
)

const serviceName = "order-service"

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 64 << 10

// OrderResponse 是订单的 JSON 表示
type OrderResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	ProductID       int64   `json:"productId"`
	Quantity        int     `json:"quantity"`
	TotalAmount     float64 `json:"totalAmount"`
	Status          string  `json:"status"`
	PaymentStatus   string  `json:"paymentStatus"`
	OrderDate       string  `json:"orderDate"`
	ShippingAddress string  `json:"shippingAddress,omitempty"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
}

func toResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		ProductID:       o.ProductID,
		Quantity:        o.Quantity,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		OrderDate:       o.CreatedAt.UTC().Format(time.RFC3339),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
	}
}

func toResponses(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	return out
}

// OrderHandler 封装了 order 服务的 HTTP 处理器
type OrderHandler struct {
	service  *application.OrderApplicationService
	hub      *Hub
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例；hub 为 nil 时不挂载 /ws/orders
func NewOrderHandler(service *application.OrderApplicationService, hub *Hub, gatherer prometheus.Gatherer) *OrderHandler {
	return &OrderHandler{service: service, hub: hub, gatherer: gatherer, tracer: otel.Tracer(serviceName)}
}

// Routes 返回挂载了全部路由的 chi.Router
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	if h.hub != nil {
		r.Get("/ws/orders", h.hub.ServeWS)
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.traced)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/user/{userId}", h.listByUser)
		r.Get("/status/{status}", h.listByStatus)
		r.Get("/payment-status/{paymentStatus}", h.listByPaymentStatus)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}/status", h.updateStatus)
		r.Put("/{id}/payment-status", h.updatePaymentStatus)
		r.Put("/{id}/cancel", h.cancelOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Post("/{id}/pay", h.pay)
	})
	return r
}

// traced 从请求头中提取上游链路，并为每个请求开启 server span
func (h *OrderHandler) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req application.CreateOrderRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	order, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(order))
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request, q application.ListOrdersQuery) {
	orders, err := h.service.ListOrders(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(orders))
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.list(w, r, application.ListOrdersQuery{
		UserID:        q.Get("userId"),
		Status:        q.Get("status"),
		PaymentStatus: q.Get("paymentStatus"),
	})
}

func (h *OrderHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, application.ListOrdersQuery{UserID: chi.URLParam(r, "userId")})
}

func (h *OrderHandler) listByStatus(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, application.ListOrdersQuery{Status: chi.URLParam(r, "status")})
}

func (h *OrderHandler) listByPaymentStatus(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, application.ListOrdersQuery{PaymentStatus: chi.URLParam(r, "paymentStatus")})
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

// readStatusBody 接受原始字符串（可带引号）或 {"<field>": "..."} 两种请求体
func readStatusBody(r *http.Request, field string) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var body map[string]string
		if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
			return "", &domain.ValidationError{Field: field, Reason: "invalid JSON body"}
		}
		return body[field], nil
	}
	return trimmed, nil
}

func (h *OrderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := readStatusBody(r, "status")
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.service.TransitionStatus(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *OrderHandler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := readStatusBody(r, "paymentStatus")
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.service.TransitionPaymentStatus(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *OrderHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.service.DeleteOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, domain.NotFound(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) pay(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.InitiatePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
