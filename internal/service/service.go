// Package service holds the checkout business logic: rate acquisition,
// payment intent management, cart address sync, session state, and the
// completion saga.
package service

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/commerce"
	"github.com/amingione/fas-checkout/internal/gateway/payment"
)

// CircuitOpenFallback is the fallback for the saga's circuit breaker. When the
// circuit is open it returns a structured error with a retry hint instead of
// letting the raw ErrCircuitOpen propagate.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("downstream service is temporarily unavailable, please retry after 30 seconds")
}

// CommerceGateway is the subset of the commerce engine API the services use.
type CommerceGateway interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	UpdateAddress(ctx context.Context, cartID string, address domain.Address, email string) (*domain.Cart, error)
	ListShippingOptions(ctx context.Context, cartID string) ([]commerce.ShippingOption, error)
	AddShippingMethod(ctx context.Context, cartID, optionID string, amountCents int64) error
	CreatePaymentCollection(ctx context.Context, cartID string) (string, error)
	CreatePaymentSession(ctx context.Context, collectionID, providerID string) error
	CompleteCart(ctx context.Context, cartID string) (*domain.Order, error)
	GetOrderByCart(ctx context.Context, cartID string) (*domain.Order, error)
}

// PaymentGateway is the subset of the payment gateway API the services use.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, input payment.CreateIntentInput) (*domain.PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	UpdateIntent(ctx context.Context, intentID string, input payment.UpdateIntentInput) (*domain.PaymentIntent, error)
}

// EventPublisher publishes checkout domain events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, order *domain.Order) error
	PublishCompletionFailed(ctx context.Context, paymentIntentID, cartID, step string, reason error) error
}

// RateQuoter quotes shipping rates for an address and parcel.
type RateQuoter interface {
	Quotes(ctx context.Context, address domain.Address, parcel domain.Parcel) ([]domain.ShippingRate, error)
}

// withTimeout applies a per-step timeout when one is configured; a zero
// duration inherits the parent context's deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}
