package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/commerce"
	"github.com/amingione/fas-checkout/internal/gateway/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubCommerce implements CommerceGateway with overridable behavior and
// thread-safe call counters.
type stubCommerce struct {
	mu sync.Mutex

	getCartFn          func(ctx context.Context, cartID string) (*domain.Cart, error)
	updateAddressFn    func(ctx context.Context, cartID string, address domain.Address, email string) (*domain.Cart, error)
	listOptionsFn      func(ctx context.Context, cartID string) ([]commerce.ShippingOption, error)
	addShippingFn      func(ctx context.Context, cartID, optionID string, amountCents int64) error
	createCollectionFn func(ctx context.Context, cartID string) (string, error)
	createSessionFn    func(ctx context.Context, collectionID, providerID string) error
	completeCartFn     func(ctx context.Context, cartID string) (*domain.Order, error)
	getOrderByCartFn   func(ctx context.Context, cartID string) (*domain.Order, error)

	getCartCalls      int
	addShippingCalls  int
	listOptionsCalls  int
	completeCalls     int
	collectionCalls   int
	sessionCalls      int
	updateAddrCalls   int
	orderLookupCalls  int
	lastShippingOptID string
	lastShippingCents int64
}

func (s *stubCommerce) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	s.mu.Lock()
	s.getCartCalls++
	s.mu.Unlock()
	if s.getCartFn != nil {
		return s.getCartFn(ctx, cartID)
	}
	return nil, apperrors.NotFound("cart", cartID)
}

func (s *stubCommerce) UpdateAddress(ctx context.Context, cartID string, address domain.Address, email string) (*domain.Cart, error) {
	s.mu.Lock()
	s.updateAddrCalls++
	s.mu.Unlock()
	if s.updateAddressFn != nil {
		return s.updateAddressFn(ctx, cartID, address, email)
	}
	return &domain.Cart{ID: cartID, Email: email}, nil
}

func (s *stubCommerce) ListShippingOptions(ctx context.Context, cartID string) ([]commerce.ShippingOption, error) {
	s.mu.Lock()
	s.listOptionsCalls++
	s.mu.Unlock()
	if s.listOptionsFn != nil {
		return s.listOptionsFn(ctx, cartID)
	}
	return nil, nil
}

func (s *stubCommerce) AddShippingMethod(ctx context.Context, cartID, optionID string, amountCents int64) error {
	s.mu.Lock()
	s.addShippingCalls++
	s.lastShippingOptID = optionID
	s.lastShippingCents = amountCents
	s.mu.Unlock()
	if s.addShippingFn != nil {
		return s.addShippingFn(ctx, cartID, optionID, amountCents)
	}
	return nil
}

func (s *stubCommerce) CreatePaymentCollection(ctx context.Context, cartID string) (string, error) {
	s.mu.Lock()
	s.collectionCalls++
	s.mu.Unlock()
	if s.createCollectionFn != nil {
		return s.createCollectionFn(ctx, cartID)
	}
	return "paycol_1", nil
}

func (s *stubCommerce) CreatePaymentSession(ctx context.Context, collectionID, providerID string) error {
	s.mu.Lock()
	s.sessionCalls++
	s.mu.Unlock()
	if s.createSessionFn != nil {
		return s.createSessionFn(ctx, collectionID, providerID)
	}
	return nil
}

func (s *stubCommerce) CompleteCart(ctx context.Context, cartID string) (*domain.Order, error) {
	s.mu.Lock()
	s.completeCalls++
	s.mu.Unlock()
	if s.completeCartFn != nil {
		return s.completeCartFn(ctx, cartID)
	}
	return nil, apperrors.NotFound("cart", cartID)
}

func (s *stubCommerce) GetOrderByCart(ctx context.Context, cartID string) (*domain.Order, error) {
	s.mu.Lock()
	s.orderLookupCalls++
	s.mu.Unlock()
	if s.getOrderByCartFn != nil {
		return s.getOrderByCartFn(ctx, cartID)
	}
	return nil, apperrors.NotFound("order", cartID)
}

func (s *stubCommerce) calls() stubCommerce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stubCommerce{
		getCartCalls:      s.getCartCalls,
		addShippingCalls:  s.addShippingCalls,
		listOptionsCalls:  s.listOptionsCalls,
		completeCalls:     s.completeCalls,
		collectionCalls:   s.collectionCalls,
		sessionCalls:      s.sessionCalls,
		updateAddrCalls:   s.updateAddrCalls,
		orderLookupCalls:  s.orderLookupCalls,
		lastShippingOptID: s.lastShippingOptID,
		lastShippingCents: s.lastShippingCents,
	}
}

// stubPayments implements PaymentGateway.
type stubPayments struct {
	createFn func(ctx context.Context, input payment.CreateIntentInput) (*domain.PaymentIntent, error)
	getFn    func(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	updateFn func(ctx context.Context, intentID string, input payment.UpdateIntentInput) (*domain.PaymentIntent, error)

	mu          sync.Mutex
	getCalls    int
	updateCalls int
	lastUpdate  payment.UpdateIntentInput
}

func (s *stubPayments) CreateIntent(ctx context.Context, input payment.CreateIntentInput) (*domain.PaymentIntent, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	return &domain.PaymentIntent{
		ID:          "pi_1",
		Status:      domain.IntentStatusRequiresPaymentMethod,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Metadata:    input.Metadata,
	}, nil
}

func (s *stubPayments) GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	s.getCalls++
	s.mu.Unlock()
	if s.getFn != nil {
		return s.getFn(ctx, intentID)
	}
	return nil, apperrors.NotFound("payment intent", intentID)
}

func (s *stubPayments) UpdateIntent(ctx context.Context, intentID string, input payment.UpdateIntentInput) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	s.updateCalls++
	s.lastUpdate = input
	s.mu.Unlock()
	if s.updateFn != nil {
		return s.updateFn(ctx, intentID, input)
	}
	return &domain.PaymentIntent{
		ID:          intentID,
		Status:      domain.IntentStatusRequiresPaymentMethod,
		AmountCents: input.AmountCents,
		Metadata:    input.Metadata,
	}, nil
}

// stubQuoter implements RateQuoter.
type stubQuoter struct {
	quotesFn func(ctx context.Context, address domain.Address, parcel domain.Parcel) ([]domain.ShippingRate, error)
	calls    int
}

func (s *stubQuoter) Quotes(ctx context.Context, address domain.Address, parcel domain.Parcel) ([]domain.ShippingRate, error) {
	s.calls++
	if s.quotesFn != nil {
		return s.quotesFn(ctx, address, parcel)
	}
	return nil, nil
}

// fakeLedger is an in-memory CompletionLedger with first-write-wins semantics.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*domain.CompletionRecord
	getErr  error
	recErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]*domain.CompletionRecord)}
}

func (l *fakeLedger) Record(_ context.Context, rec *domain.CompletionRecord) error {
	if l.recErr != nil {
		return l.recErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.PaymentIntentID]; !exists {
		cp := *rec
		l.records[rec.PaymentIntentID] = &cp
	}
	return nil
}

func (l *fakeLedger) GetByPaymentIntent(_ context.Context, paymentIntentID string) (*domain.CompletionRecord, error) {
	if l.getErr != nil {
		return nil, l.getErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[paymentIntentID]
	if !ok {
		return nil, apperrors.NotFound("completion", paymentIntentID)
	}
	cp := *rec
	return &cp, nil
}

func (l *fakeLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// stubPublisher records published events.
type stubPublisher struct {
	mu        sync.Mutex
	completed []*domain.Order
	failed    []string
}

func (p *stubPublisher) PublishOrderCompleted(_ context.Context, order *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, order)
	return nil
}

func (p *stubPublisher) PublishCompletionFailed(_ context.Context, _, _, step string, _ error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, step)
	return nil
}

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	mu     sync.Mutex
	states map[string]domain.CheckoutState
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{states: make(map[string]domain.CheckoutState)}
}

func (s *fakeSessionStore) Save(_ context.Context, sessionID string, state domain.CheckoutState, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sessionID] = state
	return nil
}

func (s *fakeSessionStore) Get(_ context.Context, sessionID string) (domain.CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionID]
	if !ok {
		return domain.CheckoutState{}, apperrors.NotFound("checkout session", sessionID)
	}
	return state, nil
}

func shippableCart(id string) *domain.Cart {
	return &domain.Cart{
		ID:            id,
		Email:         "shopper@example.com",
		Currency:      "usd",
		SubtotalCents: 4500,
		Items: []domain.CartItem{
			{VariantID: "v1", Title: "Widget", Quantity: 2, UnitPriceCents: 2000, WeightGrams: 300},
			{VariantID: "v2", Title: "Sticker", Quantity: 1, UnitPriceCents: 500, WeightGrams: 10},
		},
	}
}

func capturedIntent(id, cartID string) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:          id,
		Status:      domain.IntentStatusSucceeded,
		AmountCents: 5300,
		Currency:    "usd",
		Metadata: map[string]string{
			domain.MetaCartID:         cartID,
			domain.MetaShippingRateID: "rate_b",
			domain.MetaShippingAmount: "800",
			domain.MetaCarrier:        "usps",
			domain.MetaCarrierService: "ground",
			domain.MetaDeliveryDays:   "5",
		},
	}
}
