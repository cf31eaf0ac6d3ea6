package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain/port"
	"orderflow/internal/service/order/infrastructure"
)

type stubInventory struct{ err error }

func (s stubInventory) DecreaseStock(context.Context, string, int64, int) error { return s.err }

type stubPayment struct {
	token string
	err   error
	last  port.AuthorizeRequest
}

func (s *stubPayment) Authorize(_ context.Context, req port.AuthorizeRequest) (string, error) {
	s.last = req
	return s.token, s.err
}

type testServer struct {
	handler http.Handler
	payment *stubPayment
	svc     *application.OrderApplicationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	payment := &stubPayment{token: "pi_secret"}
	svc := application.NewOrderApplicationService(application.Dependencies{
		Repo:      infrastructure.NewMemoryOrderRepository(),
		Inventory: stubInventory{},
		Payment:   payment,
		Metrics:   metrics.New(reg),
	}, application.Options{Currency: "usd"})
	return &testServer{
		handler: NewOrderHandler(svc, nil, reg).Routes(),
		payment: payment,
		svc:     svc,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) OrderResponse {
	t.Helper()
	var o OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o), rec.Body.String())
	return o
}

func (s *testServer) createOrder(t *testing.T) OrderResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/orders/", `{"userId":"u1","productId":101,"quantity":2,"totalAmount":99.99,"shippingAddress":"1 Main St"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeOrder(t, rec)
}

func TestCreateAndGetOrder(t *testing.T) {
	s := newTestServer(t)
	created := s.createOrder(t)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "PENDING", created.PaymentStatus)
	assert.Equal(t, 2, created.Quantity)
	assert.NotEmpty(t, created.OrderDate)

	rec := s.do(t, http.MethodGet, "/api/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeOrder(t, rec))

	rec = s.do(t, http.MethodGet, "/api/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/orders/", `{"userId":"u1","productId":101,"quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/orders/", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpointsAcceptRawAndJSONBodies(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t)

	rec := s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `CONFIRMED`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CONFIRMED", decodeOrder(t, rec).Status)

	// 支付未完成时不能发货
	rec = s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/payment-status", `"COMPLETED"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", decodeOrder(t, rec).PaymentStatus)

	rec = s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `LOST`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/orders/missing/status", `CONFIRMED`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAndTerminalState(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "CANCELLED", decodeOrder(t, rec).Status)
	}

	rec := s.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `PENDING`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t)
	a := s.createOrder(t)
	rec := s.do(t, http.MethodPost, "/api/orders/", `{"userId":"u2","productId":102,"quantity":1,"totalAmount":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	s.do(t, http.MethodPut, "/api/orders/"+a.ID+"/payment-status", `FAILED`)

	count := func(path string) int {
		rec := s.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		var list []OrderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		return len(list)
	}
	assert.Equal(t, 2, count("/api/orders/"))
	assert.Equal(t, 1, count("/api/orders/?userId=u1"))
	assert.Equal(t, 2, count("/api/orders/?status=PENDING"))
	assert.Equal(t, 1, count("/api/orders/?userId=u2&status=PENDING"))
	assert.Equal(t, 1, count("/api/orders/?paymentStatus=FAILED"))
	assert.Equal(t, 1, count("/api/orders/user/u2"))
	assert.Equal(t, 2, count("/api/orders/status/pending"))
	assert.Equal(t, 1, count("/api/orders/payment-status/FAILED"))
	assert.Equal(t, 0, count("/api/orders/user/nobody"))

	rec = s.do(t, http.MethodGet, "/api/orders/?userId=u1&paymentStatus=FAILED", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/orders/status/LOST", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t)

	rec := s.do(t, http.MethodDelete, "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayEndpoint(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t)

	rec := s.do(t, http.MethodPost, "/api/orders/"+o.ID+"/pay", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pi_secret", body["clientSecret"])
	assert.Equal(t, o.ID, body["orderId"])
	assert.Equal(t, int64(9999), s.payment.last.AmountMinor)

	s.payment.err = &port.PaymentError{Kind: port.FailureRejected, Code: "card_declined", Reason: "Your card was declined."}
	rec = s.do(t, http.MethodPost, "/api/orders/"+o.ID+"/pay", "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "card_declined")

	s.payment.err = &port.PaymentError{Kind: port.FailureUnavailable, Reason: "connection reset"}
	rec = s.do(t, http.MethodPost, "/api/orders/"+o.ID+"/pay", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/orders/missing/pay", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.createOrder(t)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "orders_operations_total"))
}
