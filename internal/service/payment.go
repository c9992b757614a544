package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/payment"
)

// IntentService manages the payment intent for a checkout. The charged amount
// is always recomputed server-side from the cart and the selected rate;
// client-supplied totals are advisory only.
type IntentService struct {
	commerce CommerceGateway
	payments PaymentGateway
	logger   *slog.Logger
}

// NewIntentService creates a payment intent service.
func NewIntentService(commerce CommerceGateway, payments PaymentGateway, logger *slog.Logger) *IntentService {
	return &IntentService{
		commerce: commerce,
		payments: payments,
		logger:   logger,
	}
}

// CreateIntent opens a payment intent for a cart at its current subtotal and
// links the two through intent metadata. Shipping is added later via
// UpdateIntent once a rate is selected.
func (s *IntentService) CreateIntent(ctx context.Context, cartID string) (*domain.PaymentIntent, error) {
	if cartID == "" {
		return nil, apperrors.InvalidInput("cart id is required")
	}

	cart, err := s.commerce.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart for intent: %w", err)
	}
	if cart.Completed() {
		return nil, apperrors.InvalidInput("cart has already been completed")
	}
	if cart.SubtotalCents <= 0 {
		return nil, apperrors.InvalidInput("cart subtotal must be positive")
	}

	intent, err := s.payments.CreateIntent(ctx, payment.CreateIntentInput{
		AmountCents: cart.SubtotalCents,
		Currency:    cart.Currency,
		Metadata:    map[string]string{domain.MetaCartID: cart.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	s.logger.InfoContext(ctx, "payment intent created",
		slog.String("cart_id", cart.ID),
		slog.String("payment_intent_id", intent.ID),
		slog.Int64("amount_cents", intent.AmountCents),
	)

	return intent, nil
}

// SelectedRateInput is the shipping rate the shopper picked, as quoted by the
// carrier rate service.
type SelectedRateInput struct {
	RateID       string
	Carrier      string
	Service      string
	AmountCents  int64
	DeliveryDays int
}

// UpdateIntent re-prices an intent after a rate selection. The new amount is
// cart subtotal plus the selected rate; the rate's identity is written into
// intent metadata so the completion saga can replay the choice server-side.
// Repeating the call with the same rate converges on the same result.
func (s *IntentService) UpdateIntent(ctx context.Context, intentID string, rate SelectedRateInput, claimedTotalCents int64) (*domain.PaymentIntent, error) {
	if intentID == "" {
		return nil, apperrors.InvalidInput("payment intent id is required")
	}
	if rate.RateID == "" || rate.Carrier == "" {
		return nil, apperrors.InvalidInput("selected rate is incomplete")
	}
	if rate.AmountCents < 0 {
		return nil, apperrors.InvalidInput("rate amount cannot be negative")
	}

	intent, err := s.payments.GetIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}

	cartID := intent.CartID()
	if cartID == "" {
		return nil, apperrors.Linkage(fmt.Sprintf("payment intent %s has no linked cart", intentID))
	}

	cart, err := s.commerce.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart for intent update: %w", err)
	}
	if cart.Completed() {
		return nil, apperrors.InvalidInput("cart has already been completed")
	}

	amount := cart.SubtotalCents + rate.AmountCents
	if claimedTotalCents != 0 && claimedTotalCents != amount {
		s.logger.WarnContext(ctx, "client total disagrees with server-side amount",
			slog.String("payment_intent_id", intentID),
			slog.Int64("claimed_cents", claimedTotalCents),
			slog.Int64("computed_cents", amount),
		)
	}

	updated, err := s.payments.UpdateIntent(ctx, intentID, payment.UpdateIntentInput{
		AmountCents: amount,
		Metadata: map[string]string{
			domain.MetaCartID:         cartID,
			domain.MetaShippingRateID: rate.RateID,
			domain.MetaShippingAmount: strconv.FormatInt(rate.AmountCents, 10),
			domain.MetaCarrier:        rate.Carrier,
			domain.MetaCarrierService: rate.Service,
			domain.MetaDeliveryDays:   strconv.Itoa(rate.DeliveryDays),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("update payment intent: %w", err)
	}

	s.logger.InfoContext(ctx, "payment intent re-priced",
		slog.String("payment_intent_id", intentID),
		slog.String("shipping_rate_id", rate.RateID),
		slog.Int64("amount_cents", updated.AmountCents),
	)

	return updated, nil
}
