package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	pkgkafka "github.com/amingione/fas-checkout/pkg/kafka"

	"github.com/amingione/fas-checkout/internal/domain"
)

// Completer runs the completion saga for a captured payment.
type Completer interface {
	Complete(ctx context.Context, paymentIntentID string) (*domain.Order, error)
}

// PaymentSucceededData is the payload of a payment-succeeded event published
// by the webhook ingress. It races the client's explicit completion call; the
// saga's idempotency makes the race harmless.
type PaymentSucceededData struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// PaymentConsumer consumes payment-succeeded events and drives the completion
// saga for each one.
type PaymentConsumer struct {
	consumer *pkgkafka.Consumer
	logger   *slog.Logger
}

// NewPaymentConsumer creates a consumer for payment-succeeded events.
// Duplicate deliveries are dropped by event id before reaching the saga.
func NewPaymentConsumer(cfg pkgkafka.ConsumerConfig, completer Completer, logger *slog.Logger) *PaymentConsumer {
	store := pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	handler := pkgkafka.IdempotentHandler(store, paymentHandler(completer, logger), logger)

	return &PaymentConsumer{
		consumer: pkgkafka.NewConsumer(cfg, handler, logger),
		logger:   logger,
	}
}

// WithDLQ routes payment events that exhaust all retries to a dead-letter
// topic for manual inspection.
func (c *PaymentConsumer) WithDLQ(dlq *pkgkafka.DLQProducer) *PaymentConsumer {
	c.consumer.WithDLQ(dlq)
	return c
}

// Start blocks consuming events until the context is canceled.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close shuts the underlying consumer down.
func (c *PaymentConsumer) Close() error {
	return c.consumer.Close()
}

func paymentHandler(completer Completer, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, evt *pkgkafka.Event) error {
		var data PaymentSucceededData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			logger.ErrorContext(ctx, "malformed payment-succeeded payload, dropping",
				slog.String("event_id", evt.EventID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if data.PaymentIntentID == "" {
			logger.ErrorContext(ctx, "payment-succeeded event without payment intent id, dropping",
				slog.String("event_id", evt.EventID),
			)
			return nil
		}

		order, err := completer.Complete(ctx, data.PaymentIntentID)
		if err != nil {
			// A 4xx from the saga is terminal: the same event cannot succeed
			// on redelivery, so do not feed the retry loop.
			if apperrors.HTTPStatus(err) < 500 {
				logger.ErrorContext(ctx, "completion rejected, dropping event",
					slog.String("payment_intent_id", data.PaymentIntentID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return err
		}

		logger.InfoContext(ctx, "completion triggered by payment event",
			slog.String("payment_intent_id", data.PaymentIntentID),
			slog.String("order_id", order.ID),
		)
		return nil
	}
}
