package event

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	pkgkafka "github.com/amingione/fas-checkout/pkg/kafka"

	"github.com/amingione/fas-checkout/internal/domain"
)

type stubCompleter struct {
	order *domain.Order
	err   error
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _ string) (*domain.Order, error) {
	s.calls++
	return s.order, s.err
}

func paymentEvent(t *testing.T, data any) *pkgkafka.Event {
	t.Helper()
	evt, err := pkgkafka.NewEvent("payment.succeeded", "pi_1", "payment", "payment-gateway", data)
	require.NoError(t, err)
	return evt
}

func TestPaymentHandler_TriggersCompletion(t *testing.T) {
	completer := &stubCompleter{order: &domain.Order{ID: "order_1"}}
	handler := paymentHandler(completer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := paymentEvent(t, PaymentSucceededData{PaymentIntentID: "pi_1"})

	err := handler(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls)
}

func TestPaymentHandler_DropsMalformedPayload(t *testing.T) {
	completer := &stubCompleter{}
	handler := paymentHandler(completer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := paymentEvent(t, PaymentSucceededData{PaymentIntentID: "pi_1"})
	evt.Data = json.RawMessage(`not-json`)

	err := handler(context.Background(), evt)
	require.NoError(t, err)
	assert.Zero(t, completer.calls)
}

func TestPaymentHandler_DropsMissingIntentID(t *testing.T) {
	completer := &stubCompleter{}
	handler := paymentHandler(completer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := paymentEvent(t, PaymentSucceededData{})

	err := handler(context.Background(), evt)
	require.NoError(t, err)
	assert.Zero(t, completer.calls)
}

func TestPaymentHandler_DropsTerminalRejections(t *testing.T) {
	// A 4xx from the saga cannot succeed on redelivery; the event must be
	// acknowledged, not retried.
	completer := &stubCompleter{err: apperrors.InvalidInput("payment has not been captured")}
	handler := paymentHandler(completer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := paymentEvent(t, PaymentSucceededData{PaymentIntentID: "pi_1"})

	err := handler(context.Background(), evt)
	assert.NoError(t, err)
}

func TestPaymentHandler_ReturnsRetryableFailures(t *testing.T) {
	completer := &stubCompleter{err: apperrors.Upstream("commerce-engine", 503, "engine down")}
	handler := paymentHandler(completer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := paymentEvent(t, PaymentSucceededData{PaymentIntentID: "pi_1"})

	err := handler(context.Background(), evt)
	assert.Error(t, err)
}
