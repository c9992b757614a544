package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/amingione/fas-checkout/pkg/kafka"

	"github.com/amingione/fas-checkout/internal/domain"
)

// Kafka topics for checkout domain events.
const (
	TopicOrderCompleted   = "storefront.checkout.order-completed"
	TopicCompletionFailed = "storefront.checkout.completion-failed"
)

// Aggregate type constant.
const AggregateTypeCheckout = "checkout"

// Source identifier for events originating from this service.
const SourceCheckout = "checkout-service"

// OrderCompletedData is the payload for an order-completed event.
type OrderCompletedData struct {
	OrderID         string `json:"order_id"`
	CartID          string `json:"cart_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Email           string `json:"email,omitempty"`
	TotalCents      int64  `json:"total_cents"`
	Currency        string `json:"currency"`
}

// CompletionFailedData is the payload for a completion-failed event. Step
// names which saga step gave up.
type CompletionFailedData struct {
	PaymentIntentID string `json:"payment_intent_id"`
	CartID          string `json:"cart_id,omitempty"`
	Step            string `json:"step"`
	Reason          string `json:"reason"`
}

// Producer publishes checkout domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the checkout service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderCompleted publishes an order-completed event after the saga
// converts a cart into an order.
func (p *Producer) PublishOrderCompleted(ctx context.Context, order *domain.Order) error {
	data := OrderCompletedData{
		OrderID:         order.ID,
		CartID:          order.CartID,
		PaymentIntentID: order.PaymentIntentID,
		Email:           order.Email,
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
	}

	evt, err := pkgkafka.NewEvent("checkout.order-completed", order.ID, AggregateTypeCheckout, SourceCheckout, data)
	if err != nil {
		return fmt.Errorf("create order-completed event: %w", err)
	}
	return p.kafka.Publish(ctx, TopicOrderCompleted, evt)
}

// PublishCompletionFailed publishes a completion-failed event so operators
// can investigate a captured payment that did not produce an order.
func (p *Producer) PublishCompletionFailed(ctx context.Context, paymentIntentID, cartID, step string, reason error) error {
	data := CompletionFailedData{
		PaymentIntentID: paymentIntentID,
		CartID:          cartID,
		Step:            step,
	}
	if reason != nil {
		data.Reason = reason.Error()
	}

	evt, err := pkgkafka.NewEvent("checkout.completion-failed", paymentIntentID, AggregateTypeCheckout, SourceCheckout, data)
	if err != nil {
		return fmt.Errorf("create completion-failed event: %w", err)
	}
	return p.kafka.Publish(ctx, TopicCompletionFailed, evt)
}
