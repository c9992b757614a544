package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
)

// DB is the subset of pgxpool.Pool the ledger needs. pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CompletionLedger implements repository.CompletionLedger using PostgreSQL.
type CompletionLedger struct {
	db DB
}

// NewCompletionLedger creates a PostgreSQL-backed completion ledger.
func NewCompletionLedger(db DB) *CompletionLedger {
	return &CompletionLedger{db: db}
}

// Record inserts a completion row. ON CONFLICT DO NOTHING makes concurrent
// recorders race safely; whichever row lands first is the durable answer.
func (r *CompletionLedger) Record(ctx context.Context, rec *domain.CompletionRecord) error {
	orderJSON, err := json.Marshal(rec.Order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	query := `
		INSERT INTO completed_payments (payment_intent_id, order_id, cart_id, order_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_intent_id) DO NOTHING`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.Exec(ctx, query,
		rec.PaymentIntentID,
		rec.OrderID,
		rec.CartID,
		orderJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion record: %w", err)
	}
	return nil
}

// GetByPaymentIntent looks up the completion for a payment intent.
func (r *CompletionLedger) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.CompletionRecord, error) {
	query := `
		SELECT payment_intent_id, order_id, cart_id, order_data, created_at
		FROM completed_payments
		WHERE payment_intent_id = $1`

	var rec domain.CompletionRecord
	var orderJSON []byte

	err := r.db.QueryRow(ctx, query, paymentIntentID).Scan(
		&rec.PaymentIntentID,
		&rec.OrderID,
		&rec.CartID,
		&orderJSON,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("completion", paymentIntentID)
		}
		return nil, fmt.Errorf("query completion record: %w", err)
	}

	if err := json.Unmarshal(orderJSON, &rec.Order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &rec, nil
}
