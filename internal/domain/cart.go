package domain

import "time"

// CartItem is one line item of a cart as reported by the commerce engine.
type CartItem struct {
	VariantID      string `json:"variant_id"`
	Title          string `json:"title"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	WeightGrams    int    `json:"weight_grams"`
}

// Cart mirrors the commerce engine's cart. Monetary amounts are integer cents.
type Cart struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	Currency      string     `json:"currency"`
	SubtotalCents int64      `json:"subtotal_cents"`
	Items         []CartItem `json:"items"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the engine has already converted this cart
// into an order.
func (c *Cart) Completed() bool {
	return c.CompletedAt != nil
}

// RequiresShipping reports whether any line item has physical weight.
func (c *Cart) RequiresShipping() bool {
	for _, it := range c.Items {
		if it.WeightGrams > 0 {
			return true
		}
	}
	return false
}
