package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/carrier"
)

func destination() domain.Address {
	return domain.Address{Line1: "1 Main St", City: "Austin", Province: "tx", PostalCode: "78701", Country: "us"}
}

func newRateService(eng *stubCommerce, quoter *stubQuoter) *RateService {
	fallback := domain.Parcel{WeightOunces: 16, LengthIn: 10, WidthIn: 8, HeightIn: 4}
	return NewRateService(eng, quoter, []string{"usps", "fedex:fedex_ground"}, fallback, 2*time.Second, testLogger())
}

func TestGetRates_FiltersAndSorts(t *testing.T) {
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
	}
	quoter := &stubQuoter{
		quotesFn: func(_ context.Context, address domain.Address, parcel domain.Parcel) ([]domain.ShippingRate, error) {
			// Address arrives normalized.
			assert.Equal(t, "US", address.Country)
			assert.Equal(t, "TX", address.Province)
			assert.Greater(t, parcel.WeightOunces, 0.0)
			return []domain.ShippingRate{
				{ID: "rate_a", Carrier: "usps", Service: "priority", AmountCents: 1200, DeliveryDays: 2},
				{ID: "rate_b", Carrier: "usps", Service: "ground", AmountCents: 800, DeliveryDays: 5},
				{ID: "rate_x", Carrier: "dhl", Service: "express", AmountCents: 300, DeliveryDays: 1},
			}, nil
		},
	}

	svc := newRateService(eng, quoter)
	result, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.NoError(t, err)
	require.Len(t, result.Rates, 2)
	// The cheap DHL quote is outside the allow list; cheapest allowed first.
	assert.Equal(t, "rate_b", result.Rates[0].ID)
	assert.Equal(t, "rate_a", result.Rates[1].ID)
	assert.Empty(t, result.Message)
}

func TestGetRates_IncompleteAddress(t *testing.T) {
	quoter := &stubQuoter{}
	svc := newRateService(&stubCommerce{}, quoter)

	addr := destination()
	addr.PostalCode = ""
	_, err := svc.GetRates(context.Background(), "cart_123", addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Zero(t, quoter.calls)
}

func TestGetRates_CarrierTimeoutDegradesToNoRates(t *testing.T) {
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
	}
	quoter := &stubQuoter{
		quotesFn: func(_ context.Context, _ domain.Address, _ domain.Parcel) ([]domain.ShippingRate, error) {
			return nil, carrier.ErrQuoteTimeout
		},
	}

	svc := newRateService(eng, quoter)
	result, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.NoError(t, err)
	assert.Empty(t, result.Rates)
	assert.Equal(t, noRatesMessage, result.Message)
}

func TestGetRates_CarrierOutageIsFatal(t *testing.T) {
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
	}
	quoter := &stubQuoter{
		quotesFn: func(_ context.Context, _ domain.Address, _ domain.Parcel) ([]domain.ShippingRate, error) {
			return nil, apperrors.Upstream("carrier", 0, "connection refused")
		},
	}

	svc := newRateService(eng, quoter)
	_, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))
}

func TestGetRates_NothingAllowedYieldsEmptyResult(t *testing.T) {
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
	}
	quoter := &stubQuoter{
		quotesFn: func(_ context.Context, _ domain.Address, _ domain.Parcel) ([]domain.ShippingRate, error) {
			return []domain.ShippingRate{{ID: "rate_x", Carrier: "dhl", Service: "express", AmountCents: 300}}, nil
		},
	}

	svc := newRateService(eng, quoter)
	result, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.NoError(t, err)
	assert.Empty(t, result.Rates)
	assert.Equal(t, noRatesMessage, result.Message)
}

func TestGetRates_NonShippableCartSkipsCarrier(t *testing.T) {
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			cart := shippableCart(id)
			cart.Items = []domain.CartItem{{VariantID: "ebook", Quantity: 1, UnitPriceCents: 900}}
			return cart, nil
		},
	}
	quoter := &stubQuoter{}

	svc := newRateService(eng, quoter)
	result, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.NoError(t, err)
	assert.Empty(t, result.Rates)
	assert.NotEmpty(t, result.Message)
	assert.Zero(t, quoter.calls)
}

func TestGetRates_CompletedCartRejected(t *testing.T) {
	completedAt := time.Now().UTC()
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			cart := shippableCart(id)
			cart.CompletedAt = &completedAt
			return cart, nil
		},
	}

	svc := newRateService(eng, &stubQuoter{})
	_, err := svc.GetRates(context.Background(), "cart_123", destination())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
