package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/commerce"
)

func groundOptions() []commerce.ShippingOption {
	return []commerce.ShippingOption{
		{ID: "so_priority", Name: "Priority", Carrier: "usps", Service: "priority"},
		{ID: "so_ground", Name: "Ground", Carrier: "usps", Service: "ground"},
	}
}

func newCompletionService(ledger *fakeLedger, eng *stubCommerce, pay *stubPayments, pub *stubPublisher) *CompletionService {
	return NewCompletionService(ledger, eng, pay, pub, testLogger(), SagaTimeouts{
		PaymentTimeout:  5 * time.Second,
		CommerceTimeout: 5 * time.Second,
	}, "pp_checkout")
}

func TestComplete_HappyPath(t *testing.T) {
	ledger := newFakeLedger()
	pub := &stubPublisher{}
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return capturedIntent(id, "cart_123"), nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
		listOptionsFn: func(_ context.Context, _ string) ([]commerce.ShippingOption, error) {
			return groundOptions(), nil
		},
		completeCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID, Currency: "usd", TotalCents: 5300}, nil
		},
	}

	svc := newCompletionService(ledger, eng, pay, pub)

	order, err := svc.Complete(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Equal(t, "pi_123", order.PaymentIntentID)

	calls := eng.calls()
	assert.Equal(t, 1, calls.addShippingCalls)
	assert.Equal(t, "so_ground", calls.lastShippingOptID)
	assert.Equal(t, int64(800), calls.lastShippingCents)
	assert.Equal(t, 1, calls.collectionCalls)
	assert.Equal(t, 1, calls.sessionCalls)
	assert.Equal(t, 1, calls.completeCalls)

	assert.Equal(t, 1, ledger.len())
	require.Len(t, pub.completed, 1)
	assert.Equal(t, "order_1", pub.completed[0].ID)
}

func TestComplete_NotCapturedRejectedWithoutCartMutation(t *testing.T) {
	ledger := newFakeLedger()
	pub := &stubPublisher{}
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			intent := capturedIntent(id, "cart_123")
			intent.Status = domain.IntentStatusRequiresPaymentMethod
			return intent, nil
		},
	}
	eng := &stubCommerce{}

	svc := newCompletionService(ledger, eng, pay, pub)

	_, err := svc.Complete(context.Background(), "pi_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	calls := eng.calls()
	assert.Zero(t, calls.getCartCalls)
	assert.Zero(t, calls.addShippingCalls)
	assert.Zero(t, calls.completeCalls)
	assert.Zero(t, ledger.len())
}

func TestComplete_LedgerFastPathSkipsGateways(t *testing.T) {
	ledger := newFakeLedger()
	require.NoError(t, ledger.Record(context.Background(), &domain.CompletionRecord{
		PaymentIntentID: "pi_123",
		OrderID:         "order_1",
		CartID:          "cart_123",
		Order:           domain.Order{ID: "order_1", CartID: "cart_123"},
	}))

	pay := &stubPayments{}
	eng := &stubCommerce{}
	svc := newCompletionService(ledger, eng, pay, &stubPublisher{})

	order, err := svc.Complete(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Zero(t, pay.getCalls)
	assert.Zero(t, eng.calls().completeCalls)
}

func TestComplete_MissingCartLinkage(t *testing.T) {
	pub := &stubPublisher{}
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusSucceeded}, nil
		},
	}
	eng := &stubCommerce{}
	svc := newCompletionService(newFakeLedger(), eng, pay, pub)

	_, err := svc.Complete(context.Background(), "pi_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrLinkage))
	require.Len(t, pub.failed, 1)
	assert.Equal(t, domain.StepResolveCart, pub.failed[0])
	assert.Zero(t, eng.calls().completeCalls)
}

func TestComplete_UnresolvableShippingMappingNeverDefaultsToFree(t *testing.T) {
	pub := &stubPublisher{}
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			intent := capturedIntent(id, "cart_123")
			intent.Metadata[domain.MetaCarrier] = "pigeon-post"
			return intent, nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
		listOptionsFn: func(_ context.Context, _ string) ([]commerce.ShippingOption, error) {
			return groundOptions(), nil
		},
	}
	svc := newCompletionService(newFakeLedger(), eng, pay, pub)

	_, err := svc.Complete(context.Background(), "pi_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrLinkage))

	calls := eng.calls()
	assert.Zero(t, calls.addShippingCalls)
	assert.Zero(t, calls.completeCalls)
	require.Len(t, pub.failed, 1)
	assert.Equal(t, domain.StepApplyShippingMethod, pub.failed[0])
}

func TestComplete_NoShippingSelectionSkipsStep(t *testing.T) {
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return &domain.PaymentIntent{
				ID:       id,
				Status:   domain.IntentStatusSucceeded,
				Metadata: map[string]string{domain.MetaCartID: "cart_123"},
			}, nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			cart := shippableCart(id)
			cart.Items = []domain.CartItem{{VariantID: "ebook", Quantity: 1, UnitPriceCents: 4500}}
			return cart, nil
		},
		completeCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID}, nil
		},
	}
	svc := newCompletionService(newFakeLedger(), eng, pay, &stubPublisher{})

	order, err := svc.Complete(context.Background(), "pi_digital")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)

	calls := eng.calls()
	assert.Zero(t, calls.listOptionsCalls)
	assert.Zero(t, calls.addShippingCalls)
	assert.Equal(t, 1, calls.completeCalls)
}

func TestComplete_AlreadyCompletedCartResolvesToExistingOrder(t *testing.T) {
	completedAt := time.Now().UTC()
	ledger := newFakeLedger()
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return capturedIntent(id, "cart_123"), nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			cart := shippableCart(id)
			cart.CompletedAt = &completedAt
			return cart, nil
		},
		getOrderByCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID}, nil
		},
	}
	svc := newCompletionService(ledger, eng, pay, &stubPublisher{})

	order, err := svc.Complete(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)

	calls := eng.calls()
	assert.Zero(t, calls.completeCalls)
	assert.Zero(t, calls.addShippingCalls)
	assert.Equal(t, 1, ledger.len())
}

func TestComplete_EngineRejectsRepeatCompletion(t *testing.T) {
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return capturedIntent(id, "cart_123"), nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
		listOptionsFn: func(_ context.Context, _ string) ([]commerce.ShippingOption, error) {
			return groundOptions(), nil
		},
		completeCartFn: func(_ context.Context, _ string) (*domain.Order, error) {
			return nil, commerce.ErrCartCompleted
		},
		getOrderByCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID}, nil
		},
	}
	svc := newCompletionService(newFakeLedger(), eng, pay, &stubPublisher{})

	order, err := svc.Complete(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
}

func TestComplete_ConcurrentInvocationsProduceOneOrder(t *testing.T) {
	ledger := newFakeLedger()
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return capturedIntent(id, "cart_123"), nil
		},
	}

	var completeMu sync.Mutex
	completed := false
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
		listOptionsFn: func(_ context.Context, _ string) ([]commerce.ShippingOption, error) {
			return groundOptions(), nil
		},
		getOrderByCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID}, nil
		},
	}
	// The engine's complete-once rule: first caller wins, the rest conflict.
	eng.completeCartFn = func(_ context.Context, cartID string) (*domain.Order, error) {
		completeMu.Lock()
		defer completeMu.Unlock()
		if completed {
			return nil, commerce.ErrCartCompleted
		}
		completed = true
		return &domain.Order{ID: "order_1", CartID: cartID}, nil
	}

	svc := newCompletionService(ledger, eng, pay, &stubPublisher{})

	const n = 4
	orders := make([]*domain.Order, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orders[i], errs[i] = svc.Complete(context.Background(), "pi_123")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "order_1", orders[i].ID)
	}
	assert.Equal(t, 1, ledger.len())
}

func TestComplete_UpstreamFailurePropagates(t *testing.T) {
	pay := &stubPayments{
		getFn: func(_ context.Context, _ string) (*domain.PaymentIntent, error) {
			return nil, apperrors.Upstream("payment-gateway", 503, "maintenance")
		},
	}
	svc := newCompletionService(newFakeLedger(), &stubCommerce{}, pay, &stubPublisher{})

	_, err := svc.Complete(context.Background(), "pi_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))
}

func TestComplete_DegradedLedgerDoesNotBlock(t *testing.T) {
	ledger := newFakeLedger()
	ledger.getErr = errors.New("connection refused")
	pay := &stubPayments{
		getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
			return capturedIntent(id, "cart_123"), nil
		},
	}
	eng := &stubCommerce{
		getCartFn: func(_ context.Context, id string) (*domain.Cart, error) {
			return shippableCart(id), nil
		},
		listOptionsFn: func(_ context.Context, _ string) ([]commerce.ShippingOption, error) {
			return groundOptions(), nil
		},
		completeCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
			return &domain.Order{ID: "order_1", CartID: cartID}, nil
		},
	}
	svc := newCompletionService(ledger, eng, pay, &stubPublisher{})

	order, err := svc.Complete(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
}

func TestLookup(t *testing.T) {
	t.Run("ledger hit", func(t *testing.T) {
		ledger := newFakeLedger()
		require.NoError(t, ledger.Record(context.Background(), &domain.CompletionRecord{
			PaymentIntentID: "pi_123",
			OrderID:         "order_1",
			Order:           domain.Order{ID: "order_1"},
		}))
		svc := newCompletionService(ledger, &stubCommerce{}, &stubPayments{}, &stubPublisher{})

		order, found, err := svc.Lookup(context.Background(), "pi_123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "order_1", order.ID)
	})

	t.Run("engine fallback backfills ledger", func(t *testing.T) {
		ledger := newFakeLedger()
		pay := &stubPayments{
			getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
				return capturedIntent(id, "cart_123"), nil
			},
		}
		eng := &stubCommerce{
			getOrderByCartFn: func(_ context.Context, cartID string) (*domain.Order, error) {
				return &domain.Order{ID: "order_1", CartID: cartID}, nil
			},
		}
		svc := newCompletionService(ledger, eng, pay, &stubPublisher{})

		order, found, err := svc.Lookup(context.Background(), "pi_123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "order_1", order.ID)
		assert.Equal(t, 1, ledger.len())
	})

	t.Run("no order yet", func(t *testing.T) {
		pay := &stubPayments{
			getFn: func(_ context.Context, id string) (*domain.PaymentIntent, error) {
				return capturedIntent(id, "cart_123"), nil
			},
		}
		svc := newCompletionService(newFakeLedger(), &stubCommerce{}, pay, &stubPublisher{})

		_, found, err := svc.Lookup(context.Background(), "pi_123")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
