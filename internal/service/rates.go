package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/carrier"
)

// noRatesMessage is shown to the shopper when the carrier has nothing to
// offer for the destination. It is a normal outcome, not an error.
const noRatesMessage = "no shipping rates are available for this address"

// RateService acquires shipping rates for a cart and destination.
type RateService struct {
	commerce       CommerceGateway
	quoter         RateQuoter
	allowedMethods []string
	fallbackParcel domain.Parcel
	quoteTimeout   time.Duration
	logger         *slog.Logger
}

// NewRateService creates a rate service. allowedMethods is the carrier (or
// carrier:service) allow list; quotes outside it are never shown.
func NewRateService(
	commerce CommerceGateway,
	quoter RateQuoter,
	allowedMethods []string,
	fallbackParcel domain.Parcel,
	quoteTimeout time.Duration,
	logger *slog.Logger,
) *RateService {
	return &RateService{
		commerce:       commerce,
		quoter:         quoter,
		allowedMethods: allowedMethods,
		fallbackParcel: fallbackParcel,
		quoteTimeout:   quoteTimeout,
		logger:         logger,
	}
}

// RatesResult is the outcome of a rate request. When Rates is empty, Message
// explains why so the UI can tell the shopper.
type RatesResult struct {
	Rates   []domain.ShippingRate `json:"rates"`
	Message string                `json:"message,omitempty"`
}

// GetRates quotes shipping for a cart to the given destination, filtered to
// the allowed carriers and sorted cheapest first. A carrier timeout degrades
// to an empty result; any other carrier failure propagates.
func (s *RateService) GetRates(ctx context.Context, cartID string, address domain.Address) (*RatesResult, error) {
	if cartID == "" {
		return nil, apperrors.InvalidInput("cart id is required")
	}

	address = address.Normalized()
	if !address.Complete() {
		return nil, apperrors.InvalidInput("shipping address is incomplete")
	}

	cart, err := s.commerce.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart for rates: %w", err)
	}
	if cart.Completed() {
		return nil, apperrors.InvalidInput("cart has already been completed")
	}
	if !cart.RequiresShipping() {
		return &RatesResult{Rates: []domain.ShippingRate{}, Message: "cart has no shippable items"}, nil
	}

	parcel := domain.EstimateParcel(cart.Items, s.fallbackParcel)

	qctx, cancel := withTimeout(ctx, s.quoteTimeout)
	defer cancel()

	quotes, err := s.quoter.Quotes(qctx, address, parcel)
	if err != nil {
		if errors.Is(err, carrier.ErrQuoteTimeout) {
			s.logger.WarnContext(ctx, "carrier quote timed out, returning no rates",
				slog.String("cart_id", cartID),
			)
			return &RatesResult{Rates: []domain.ShippingRate{}, Message: noRatesMessage}, nil
		}
		return nil, fmt.Errorf("quote shipping rates: %w", err)
	}

	rates := domain.FilterRates(quotes, s.allowedMethods)
	domain.SortRates(rates)

	if len(rates) == 0 {
		s.logger.InfoContext(ctx, "no usable rates for destination",
			slog.String("cart_id", cartID),
			slog.String("country", address.Country),
			slog.Int("quoted", len(quotes)),
		)
		return &RatesResult{Rates: []domain.ShippingRate{}, Message: noRatesMessage}, nil
	}

	s.logger.InfoContext(ctx, "rates acquired",
		slog.String("cart_id", cartID),
		slog.Int("count", len(rates)),
		slog.Int64("cheapest_cents", rates[0].AmountCents),
	)

	return &RatesResult{Rates: rates}, nil
}
