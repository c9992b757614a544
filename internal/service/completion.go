package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/gateway/commerce"
	"github.com/amingione/fas-checkout/internal/repository"
)

// SagaTimeouts holds per-step timeout configuration for the completion saga.
// A zero value means no per-step timeout (inherits the parent context).
type SagaTimeouts struct {
	PaymentTimeout  time.Duration
	CommerceTimeout time.Duration
}

// CompletionService turns a captured payment into exactly one order. It runs
// a forward-only saga against the payment gateway and the commerce engine:
// no step compensates, every step converges on retry, and the completed
// payments ledger plus the engine's own complete-once rule guarantee that
// concurrent or repeated attempts all resolve to the same order.
type CompletionService struct {
	ledger     repository.CompletionLedger
	commerce   CommerceGateway
	payments   PaymentGateway
	producer   EventPublisher
	logger     *slog.Logger
	timeouts   SagaTimeouts
	providerID string
}

// NewCompletionService creates a completion service. providerID names the
// payment provider registered with the commerce engine for payment sessions.
func NewCompletionService(
	ledger repository.CompletionLedger,
	commerceGW CommerceGateway,
	payments PaymentGateway,
	producer EventPublisher,
	logger *slog.Logger,
	timeouts SagaTimeouts,
	providerID string,
) *CompletionService {
	return &CompletionService{
		ledger:     ledger,
		commerce:   commerceGW,
		payments:   payments,
		producer:   producer,
		logger:     logger,
		timeouts:   timeouts,
		providerID: providerID,
	}
}

// Complete runs the completion saga for a captured payment intent and returns
// the resulting order. Calling it again for the same payment, from any
// trigger, returns the same order.
func (s *CompletionService) Complete(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	if paymentIntentID == "" {
		return nil, apperrors.InvalidInput("payment intent id is required")
	}

	// Fast path: this payment already produced an order.
	if rec, err := s.ledger.GetByPaymentIntent(ctx, paymentIntentID); err == nil {
		s.logger.InfoContext(ctx, "completion already recorded",
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("order_id", rec.OrderID),
		)
		return &rec.Order, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		// A degraded ledger must not block completion; the engine's
		// complete-once rule still protects against duplicates.
		s.logger.WarnContext(ctx, "ledger lookup failed, proceeding without fast path",
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("error", err.Error()),
		)
	}

	// Step 1: retrieve the payment and verify capture.
	step := domain.NewSagaStep(domain.StepRetrievePayment)
	intent, err := s.retrieveIntent(ctx, paymentIntentID)
	if err != nil {
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	if !intent.Captured() {
		err := apperrors.InvalidInput(fmt.Sprintf("payment intent %s is not captured (status %s)", intent.ID, intent.Status))
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	step.Complete()
	s.logStep(ctx, paymentIntentID, step)

	// Step 2: resolve the linked cart.
	step = domain.NewSagaStep(domain.StepResolveCart)
	cartID := intent.CartID()
	if cartID == "" {
		err := apperrors.Linkage(fmt.Sprintf("payment intent %s has no linked cart", intent.ID))
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		s.publishFailure(ctx, paymentIntentID, "", step.Name, err)
		return nil, err
	}
	cart, err := s.getCart(ctx, cartID)
	if err != nil {
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	step.Complete()
	s.logStep(ctx, paymentIntentID, step)

	// Another completion attempt may have beaten this one to the engine.
	if cart.Completed() {
		return s.resolveExisting(ctx, intent)
	}

	// Step 3: apply the shipping method chosen at checkout.
	step = domain.NewSagaStep(domain.StepApplyShippingMethod)
	applied, err := s.applyShippingMethod(ctx, intent, cartID)
	if err != nil {
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		if errors.Is(err, apperrors.ErrLinkage) {
			s.publishFailure(ctx, paymentIntentID, cartID, step.Name, err)
		}
		return nil, err
	}
	if applied {
		step.Complete()
	} else {
		step.Skip()
	}
	s.logStep(ctx, paymentIntentID, step)

	// Step 4: open a payment collection on the cart.
	step = domain.NewSagaStep(domain.StepOpenPaymentCollection)
	collectionID, err := s.openPaymentCollection(ctx, cartID)
	if err != nil {
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	step.Complete()
	s.logStep(ctx, paymentIntentID, step)

	// Step 5: open a payment session for our provider.
	step = domain.NewSagaStep(domain.StepOpenPaymentSession)
	if err := s.openPaymentSession(ctx, collectionID); err != nil {
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	step.Complete()
	s.logStep(ctx, paymentIntentID, step)

	// Step 6: complete the cart. The engine enforces exactly-once here; a
	// loser of a concurrent race resolves to the winner's order.
	step = domain.NewSagaStep(domain.StepCompleteCart)
	order, err := s.completeCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, commerce.ErrCartCompleted) {
			step.Skip()
			s.logStep(ctx, paymentIntentID, step)
			return s.resolveExisting(ctx, intent)
		}
		step.Fail(err)
		s.logStep(ctx, paymentIntentID, step)
		return nil, err
	}
	step.Complete()
	s.logStep(ctx, paymentIntentID, step)

	if order.PaymentIntentID == "" {
		order.PaymentIntentID = intent.ID
	}
	s.record(ctx, intent, order)

	if err := s.producer.PublishOrderCompleted(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order-completed event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("payment_intent_id", intent.ID),
		slog.String("cart_id", cartID),
		slog.String("order_id", order.ID),
	)

	return order, nil
}

// Lookup reports whether a payment intent has produced an order, consulting
// the ledger first and falling back to the commerce engine. It backfills the
// ledger when the engine knows about an order the ledger missed.
func (s *CompletionService) Lookup(ctx context.Context, paymentIntentID string) (*domain.Order, bool, error) {
	if paymentIntentID == "" {
		return nil, false, apperrors.InvalidInput("payment intent id is required")
	}

	if rec, err := s.ledger.GetByPaymentIntent(ctx, paymentIntentID); err == nil {
		return &rec.Order, true, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "ledger lookup failed, falling back to engine",
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("error", err.Error()),
		)
	}

	intent, err := s.retrieveIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, false, err
	}
	cartID := intent.CartID()
	if cartID == "" {
		return nil, false, nil
	}

	order, err := s.getOrderByCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if order.PaymentIntentID == "" {
		order.PaymentIntentID = intent.ID
	}
	s.record(ctx, intent, order)
	return order, true, nil
}

// resolveExisting handles the already-completed path: the engine refuses to
// complete the cart again, so the existing order is the answer.
func (s *CompletionService) resolveExisting(ctx context.Context, intent *domain.PaymentIntent) (*domain.Order, error) {
	order, err := s.getOrderByCart(ctx, intent.CartID())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// The engine reported the cart completed but has no order for it
			// yet. A retry should see the order once the engine settles.
			return nil, apperrors.Conflict(fmt.Sprintf("cart %s is completed but its order is not yet visible", intent.CartID()))
		}
		return nil, fmt.Errorf("resolve existing order: %w", err)
	}

	if order.PaymentIntentID == "" {
		order.PaymentIntentID = intent.ID
	}
	s.record(ctx, intent, order)

	s.logger.InfoContext(ctx, "completion resolved to existing order",
		slog.String("payment_intent_id", intent.ID),
		slog.String("order_id", order.ID),
	)
	return order, nil
}

// applyShippingMethod replays the shopper's rate selection against the
// engine's shipping options. Returns false when the intent carries no
// shipping selection (nothing to ship).
func (s *CompletionService) applyShippingMethod(ctx context.Context, intent *domain.PaymentIntent, cartID string) (bool, error) {
	rateID := intent.Metadata[domain.MetaShippingRateID]
	if rateID == "" {
		return false, nil
	}

	amountCents, err := strconv.ParseInt(intent.Metadata[domain.MetaShippingAmount], 10, 64)
	if err != nil {
		return false, apperrors.Linkage(fmt.Sprintf("payment intent %s has an unreadable shipping amount", intent.ID))
	}

	carrierName := intent.Metadata[domain.MetaCarrier]
	serviceName := intent.Metadata[domain.MetaCarrierService]

	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()

	options, err := s.commerce.ListShippingOptions(cctx, cartID)
	if err != nil {
		return false, fmt.Errorf("list shipping options: %w", err)
	}

	option, ok := matchShippingOption(options, carrierName, serviceName)
	if !ok {
		// Never guess: an unmapped selection silently becoming free shipping
		// would charge the shopper for postage the order does not carry.
		return false, apperrors.Linkage(fmt.Sprintf(
			"no shipping option matches carrier %q service %q for cart %s", carrierName, serviceName, cartID))
	}

	if err := s.commerce.AddShippingMethod(cctx, cartID, option.ID, amountCents); err != nil {
		return false, fmt.Errorf("add shipping method: %w", err)
	}
	return true, nil
}

// matchShippingOption finds the engine shipping option for a carrier/service
// pair. Matching is case-insensitive; the service narrows the match when the
// carrier alone is ambiguous.
func matchShippingOption(options []commerce.ShippingOption, carrierName, serviceName string) (commerce.ShippingOption, bool) {
	var carrierOnly *commerce.ShippingOption
	for i, opt := range options {
		if !strings.EqualFold(opt.Carrier, carrierName) {
			continue
		}
		if strings.EqualFold(opt.Service, serviceName) {
			return opt, true
		}
		if carrierOnly == nil {
			carrierOnly = &options[i]
		}
	}
	if carrierOnly != nil && serviceName == "" {
		return *carrierOnly, true
	}
	return commerce.ShippingOption{}, false
}

// record writes the completion to the ledger. Best effort: a ledger outage
// costs the fast path, not correctness.
func (s *CompletionService) record(ctx context.Context, intent *domain.PaymentIntent, order *domain.Order) {
	rec := &domain.CompletionRecord{
		PaymentIntentID: intent.ID,
		OrderID:         order.ID,
		CartID:          order.CartID,
		Order:           *order,
		CreatedAt:       time.Now().UTC(),
	}
	if rec.CartID == "" {
		rec.CartID = intent.CartID()
	}
	if err := s.ledger.Record(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to record completion in ledger",
			slog.String("payment_intent_id", intent.ID),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CompletionService) publishFailure(ctx context.Context, paymentIntentID, cartID, step string, cause error) {
	if err := s.producer.PublishCompletionFailed(ctx, paymentIntentID, cartID, step, cause); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish completion-failed event",
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CompletionService) logStep(ctx context.Context, paymentIntentID string, step domain.SagaStep) {
	attrs := []any{
		slog.String("payment_intent_id", paymentIntentID),
		slog.String("step", step.Name),
		slog.String("status", string(step.Status)),
	}
	if step.Status == domain.SagaStepFailed {
		attrs = append(attrs, slog.String("error", step.Error))
		s.logger.ErrorContext(ctx, "completion step failed", attrs...)
		return
	}
	s.logger.DebugContext(ctx, "completion step", attrs...)
}

func (s *CompletionService) retrieveIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	pctx, cancel := withTimeout(ctx, s.timeouts.PaymentTimeout)
	defer cancel()
	return s.payments.GetIntent(pctx, intentID)
}

func (s *CompletionService) getCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()
	return s.commerce.GetCart(cctx, cartID)
}

func (s *CompletionService) openPaymentCollection(ctx context.Context, cartID string) (string, error) {
	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()
	return s.commerce.CreatePaymentCollection(cctx, cartID)
}

func (s *CompletionService) openPaymentSession(ctx context.Context, collectionID string) error {
	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()
	return s.commerce.CreatePaymentSession(cctx, collectionID, s.providerID)
}

func (s *CompletionService) completeCart(ctx context.Context, cartID string) (*domain.Order, error) {
	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()
	return s.commerce.CompleteCart(cctx, cartID)
}

func (s *CompletionService) getOrderByCart(ctx context.Context, cartID string) (*domain.Order, error) {
	cctx, cancel := withTimeout(ctx, s.timeouts.CommerceTimeout)
	defer cancel()
	return s.commerce.GetOrderByCart(cctx, cartID)
}
