package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"orderflow/internal/service/order/domain/port"
)

func newStripeAdapter(t *testing.T, handler http.HandlerFunc) *StripePaymentAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripePaymentAdapter(StripeConfig{
		SecretKey: "sk_test_123",
		APIBase:   srv.URL,
		Timeout:   2 * time.Second,
		Logger:    zerolog.Nop(),
	}, noop.NewTracerProvider().Tracer("test"))
}

func TestStripeAuthorizeCreatesPaymentIntent(t *testing.T) {
	var form url.Values
	var path string
	adapter := newStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","amount":9999,"currency":"usd","client_secret":"pi_1_secret_abc"}`))
	})

	token, err := adapter.Authorize(context.Background(), port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 9999, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_abc", token)
	assert.Equal(t, "/v1/payment_intents", path)
	assert.Equal(t, "9999", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "true", form.Get("automatic_payment_methods[enabled]"))
	assert.Equal(t, "o-1", form.Get("metadata[order_id]"))
}

func TestStripeAuthorizeSendsIdempotencyKey(t *testing.T) {
	var keys []string
	adapter := newStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","client_secret":"pi_1_secret_abc"}`))
	})

	req := port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 9999, Currency: "usd", IdempotencyKey: "o-1:1740830400000000"}
	for i := 0; i < 2; i++ {
		_, err := adapter.Authorize(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"o-1:1740830400000000", "o-1:1740830400000000"}, keys)
}

func TestStripeAuthorizeCardDeclinedIsRejected(t *testing.T) {
	adapter := newStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := adapter.Authorize(context.Background(), port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 100, Currency: "usd"})
	var pe *port.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, port.FailureRejected, pe.Kind)
	assert.Equal(t, "card_declined", pe.Code)
	assert.Equal(t, "Your card was declined.", pe.Reason)
}

func TestStripeAuthorizeInvalidRequestIsRejected(t *testing.T) {
	adapter := newStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"amount_too_small","message":"Amount must be at least $0.50 usd"}}`))
	})

	_, err := adapter.Authorize(context.Background(), port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 1, Currency: "usd"})
	var pe *port.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, port.FailureRejected, pe.Kind)
	assert.False(t, pe.Retryable())
}

func TestStripeAuthorizeServerErrorIsUnavailable(t *testing.T) {
	calls := 0
	adapter := newStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"Something went wrong"}}`))
	})

	_, err := adapter.Authorize(context.Background(), port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 100, Currency: "usd"})
	var pe *port.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, port.FailureUnavailable, pe.Kind)
	assert.Equal(t, 1, calls)
}

func TestStripeAuthorizeTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	adapter := NewStripePaymentAdapter(StripeConfig{SecretKey: "sk_test_123", APIBase: base, Timeout: time.Second, Logger: zerolog.Nop()},
		noop.NewTracerProvider().Tracer("test"))
	_, err := adapter.Authorize(context.Background(), port.AuthorizeRequest{OrderID: "o-1", AmountMinor: 100, Currency: "usd"})
	assert.ErrorIs(t, err, port.ErrPayment)
	var pe *port.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, port.FailureUnavailable, pe.Kind)
}
