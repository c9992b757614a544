package domain

import "time"

// Order is the commerce engine's order produced by completing a cart.
type Order struct {
	ID              string    `json:"id"`
	DisplayID       string    `json:"display_id,omitempty"`
	CartID          string    `json:"cart_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Email           string    `json:"email,omitempty"`
	Currency        string    `json:"currency"`
	TotalCents      int64     `json:"total_cents"`
	CreatedAt       time.Time `json:"created_at"`
}

// CompletionRecord is one row of the completion ledger. It pins a payment
// intent to the single order it produced, so repeated completion attempts for
// the same payment resolve to the same order.
type CompletionRecord struct {
	PaymentIntentID string    `json:"payment_intent_id"`
	OrderID         string    `json:"order_id"`
	CartID          string    `json:"cart_id"`
	Order           Order     `json:"order"`
	CreatedAt       time.Time `json:"created_at"`
}
