package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/domain"
)

// fakeReader 依次返回预置消息，耗尽后阻塞到 ctx 结束
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.msgs) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type dltWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *dltWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type updaterFunc func(ctx context.Context, id, raw string) (*domain.Order, error)

func (f updaterFunc) TransitionPaymentStatus(ctx context.Context, id, raw string) (*domain.Order, error) {
	return f(ctx, id, raw)
}

func TestPaymentConsumerAppliesResultsAndDeadLetters(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "payment-results", Offset: 1, Value: []byte(`{"orderId":"o-1","paymentStatus":"COMPLETED"}`)},
		kafka.Message{Topic: "payment-results", Offset: 2, Value: []byte(`{"orderId":"missing","paymentStatus":"COMPLETED"}`)},
		kafka.Message{Topic: "payment-results", Offset: 3, Value: []byte(`not json`)},
	)
	dlt := &dltWriter{}

	var applied []string
	updater := updaterFunc(func(_ context.Context, id, raw string) (*domain.Order, error) {
		if id != "o-1" {
			return nil, domain.NotFound(id)
		}
		applied = append(applied, id+"="+raw)
		return &domain.Order{ID: id, PaymentStatus: domain.PaymentCompleted}, nil
	})

	consumer := NewPaymentResultConsumer(reader, updater, mq.NewFailureHandler(dlt))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"o-1=COMPLETED"}, applied)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.True(t, reader.closed)

	require.Len(t, dlt.msgs, 2)
	var offsets []string
	for _, m := range dlt.msgs {
		for _, h := range m.Headers {
			if h.Key == mq.HeaderOriginalOffset {
				offsets = append(offsets, string(h.Value))
			}
		}
	}
	assert.Equal(t, []string{"2", "3"}, offsets)
}

func TestPaymentConsumerRequiresOrderID(t *testing.T) {
	consumer := NewPaymentResultConsumer(newFakeReader(), updaterFunc(func(context.Context, string, string) (*domain.Order, error) {
		return nil, errors.New("should not be called")
	}), nil)
	err := consumer.handle(context.Background(), kafka.Message{Value: []byte(`{"paymentStatus":"FAILED"}`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPaymentConsumerRetriesTransientFailuresWithoutCommitting(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "payment-results", Offset: 7, Value: []byte(`{"orderId":"o-1","paymentStatus":"COMPLETED"}`)},
	)
	dlt := &dltWriter{}

	var mu sync.Mutex
	calls := 0
	updater := updaterFunc(func(_ context.Context, id, _ string) (*domain.Order, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, errors.New("dial tcp 10.0.0.5:3306: connection refused")
		}
		return &domain.Order{ID: id, PaymentStatus: domain.PaymentCompleted}, nil
	})

	consumer := NewPaymentResultConsumer(reader, updater, mq.NewFailureHandler(dlt))
	consumer.retryBackoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not commit after recovering")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, reader.committed)
	assert.Empty(t, dlt.msgs)
}

func TestPaymentConsumerStopsRetryingOnShutdownWithoutCommitting(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "payment-results", Offset: 9, Value: []byte(`{"orderId":"o-1","paymentStatus":"COMPLETED"}`)},
	)
	dlt := &dltWriter{}

	failed := make(chan struct{}, 1)
	updater := updaterFunc(func(context.Context, string, string) (*domain.Order, error) {
		select {
		case failed <- struct{}{}:
		default:
		}
		return nil, errors.New("lock wait timeout exceeded")
	})

	consumer := NewPaymentResultConsumer(reader, updater, mq.NewFailureHandler(dlt))
	consumer.retryBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never attempted the message")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, reader.committed)
	assert.Empty(t, dlt.msgs)
	assert.True(t, reader.closed)
}

func TestPaymentConsumerClassifiesErrors(t *testing.T) {
	assert.True(t, permanent(domain.NotFound("o-1")))
	assert.True(t, permanent(&domain.ValidationError{Field: "paymentStatus", Reason: "unknown"}))
	assert.True(t, permanent(&domain.TransitionError{From: domain.StatusCancelled, To: domain.StatusShipped}))
	assert.False(t, permanent(errors.New("connection refused")))
	assert.False(t, permanent(context.DeadlineExceeded))
}

func TestPaymentConsumerRejectsMalformedPayload(t *testing.T) {
	consumer := NewPaymentResultConsumer(newFakeReader(), updaterFunc(func(context.Context, string, string) (*domain.Order, error) {
		return nil, errors.New("should not be called")
	}), nil)
	err := consumer.handle(context.Background(), kafka.Message{Value: []byte(`{"orderId":`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
