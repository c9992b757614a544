package domain

// Payment intent statuses as reported by the payment gateway.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
)

// Metadata keys the checkout flow writes onto a payment intent. The completion
// saga reads these back, so the intent is the single source of truth for what
// was purchased and how it ships.
const (
	MetaCartID         = "cart_id"
	MetaShippingRateID = "shipping_rate_id"
	MetaShippingAmount = "shipping_amount_cents"
	MetaCarrier        = "carrier"
	MetaCarrierService = "carrier_service"
	MetaDeliveryDays   = "delivery_days"
)

// PaymentIntent mirrors the gateway's payment intent.
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       string            `json:"status"`
	AmountCents  int64             `json:"amount_cents"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Captured reports whether the gateway has actually collected the funds.
// Completion must never proceed on anything weaker.
func (p *PaymentIntent) Captured() bool {
	return p.Status == IntentStatusSucceeded
}

// CartID returns the linked cart id from metadata, or "" if the linkage
// is missing.
func (p *PaymentIntent) CartID() string {
	return p.Metadata[MetaCartID]
}
