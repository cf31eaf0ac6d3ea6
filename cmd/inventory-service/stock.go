package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
)

var errInsufficientStock = errors.New("insufficient stock")

const insufficientStockMessage = "Insufficient stock or product not found"

// stockStore 是进程内库存，重复的 Idempotency-Key 返回首次扣减的结果
type stockStore struct {
	mu      sync.Mutex
	stock   map[int64]int
	applied map[string]int
}

func newStockStore(seed map[int64]int) *stockStore {
	stock := make(map[int64]int, len(seed))
	for id, qty := range seed {
		stock[id] = qty
	}
	return &stockStore{stock: stock, applied: make(map[string]int)}
}

func (s *stockStore) decrease(productID int64, qty int, idempotencyKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idempotencyKey != "" {
		if remaining, ok := s.applied[idempotencyKey]; ok {
			return remaining, nil
		}
	}
	current, ok := s.stock[productID]
	if !ok || qty <= 0 || current < qty {
		return 0, errInsufficientStock
	}
	s.stock[productID] = current - qty
	if idempotencyKey != "" {
		s.applied[idempotencyKey] = current - qty
	}
	return current - qty, nil
}

type stockHandler struct {
	store  *stockStore
	tracer trace.Tracer
}

func newStockHandler(store *stockStore) *stockHandler {
	return &stockHandler{store: store, tracer: otel.Tracer(serviceName)}
}

func (h *stockHandler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Patch("/products/{id}/stock/decrease", h.decrease)
	return r
}

type decreaseResponse struct {
	Message     string `json:"message"`
	ProductID   int64  `json:"product_id"`
	NewQuantity int    `json:"new_quantity"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *stockHandler) decrease(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "inventory-service.DecreaseStock", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeStock(w, http.StatusBadRequest, errorResponse{Message: "invalid product id"})
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil {
		writeStock(w, http.StatusBadRequest, errorResponse{Message: "invalid qty"})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", productID), attribute.Int("product.quantity", qty))

	remaining, err := h.store.decrease(productID, qty, r.Header.Get("Idempotency-Key"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Info().Int64("product_id", productID).Int("qty", qty).Msg("stock decrease refused")
		writeStock(w, http.StatusBadRequest, errorResponse{Message: insufficientStockMessage})
		return
	}
	logger.Ctx(ctx).Info().Int64("product_id", productID).Int("new_quantity", remaining).Msg("stock decreased")
	writeStock(w, http.StatusOK, decreaseResponse{Message: "Stock decreased", ProductID: productID, NewQuantity: remaining})
}

func writeStock(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
