package repository

import (
	"context"
	"time"

	"github.com/amingione/fas-checkout/internal/domain"
)

// CompletionLedger records which order each captured payment produced. It is
// the fast idempotency path for completion: once a payment intent is in the
// ledger, every later completion attempt returns the same order without
// touching the commerce engine.
type CompletionLedger interface {
	// Record stores a completion. Recording the same payment intent twice is
	// a no-op; the first row wins.
	Record(ctx context.Context, rec *domain.CompletionRecord) error

	// GetByPaymentIntent returns the completion for a payment intent, or a
	// not-found error if the payment has not completed a cart yet.
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.CompletionRecord, error)
}

// SessionStore persists checkout session state between UI events.
type SessionStore interface {
	// Save writes the session state under the given id with a TTL.
	Save(ctx context.Context, sessionID string, state domain.CheckoutState, ttl time.Duration) error

	// Get loads the session state, or a not-found error if it does not exist
	// or has expired.
	Get(ctx context.Context, sessionID string) (domain.CheckoutState, error)
}
