package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amingione/fas-checkout/pkg/httputil"
	"github.com/amingione/fas-checkout/pkg/validator"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/service"
)

// CheckoutHandler handles HTTP requests for the checkout API.
type CheckoutHandler struct {
	rates     *service.RateService
	intents   *service.IntentService
	addresses *service.AddressSyncService
	completer *service.CompletionService
	sessions  *service.SessionService
	logger    *slog.Logger
}

// NewCheckoutHandler creates the checkout HTTP handler.
func NewCheckoutHandler(
	rates *service.RateService,
	intents *service.IntentService,
	addresses *service.AddressSyncService,
	completer *service.CompletionService,
	sessions *service.SessionService,
	logger *slog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		rates:     rates,
		intents:   intents,
		addresses: addresses,
		completer: completer,
		sessions:  sessions,
		logger:    logger,
	}
}

// --- Request DTOs ---

// AddressRequest is a shipping destination in request bodies.
type AddressRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone"`
}

func (a AddressRequest) toDomain() domain.Address {
	return domain.Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Province:   a.Province,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// RatesRequest is the JSON request body for quoting shipping rates.
type RatesRequest struct {
	CartID  string         `json:"cart_id" validate:"required"`
	Address AddressRequest `json:"address" validate:"required"`
}

// SyncAddressRequest is the JSON request body for writing an address to a cart.
type SyncAddressRequest struct {
	Address AddressRequest `json:"address" validate:"required"`
	Email   string         `json:"email" validate:"omitempty,email"`
}

// CreateIntentRequest is the JSON request body for opening a payment intent.
type CreateIntentRequest struct {
	CartID string `json:"cart_id" validate:"required"`
}

// UpdateIntentRequest is the JSON request body for re-pricing a payment intent
// after a rate selection. TotalCents is advisory; the server recomputes.
type UpdateIntentRequest struct {
	Rate struct {
		ID           string `json:"id" validate:"required"`
		Carrier      string `json:"carrier" validate:"required"`
		Service      string `json:"service"`
		AmountCents  int64  `json:"amount_cents" validate:"gte=0"`
		DeliveryDays int    `json:"delivery_days"`
	} `json:"rate" validate:"required"`
	TotalCents int64 `json:"total_cents"`
}

// CompleteRequest is the JSON request body for running the completion saga.
type CompleteRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// OrderLookupResponse answers "did this payment produce an order yet".
// Absence is a normal polling outcome, not an error.
type OrderLookupResponse struct {
	Exists bool          `json:"exists"`
	Order  *domain.Order `json:"order,omitempty"`
}

// DispatchEventRequest is the JSON request body for advancing a checkout
// session's state machine.
type DispatchEventRequest struct {
	Type            string                `json:"type" validate:"required"`
	Address         *AddressRequest       `json:"address"`
	Rates           []domain.ShippingRate `json:"rates"`
	RateID          string                `json:"rate_id"`
	PaymentIntentID string                `json:"payment_intent_id"`
	Message         string                `json:"message"`
}

// --- Handlers ---

// GetRates handles POST /api/v1/checkout/rates.
// Quotes shipping for a cart to a destination address.
func (h *CheckoutHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	var req RatesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.rates.GetRates(r.Context(), req.CartID, req.Address.toDomain())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SyncAddress handles PUT /api/v1/checkout/carts/{id}/address.
func (h *CheckoutHandler) SyncAddress(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "id")

	var req SyncAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cart, err := h.addresses.Sync(r.Context(), cartID, req.Address.toDomain(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// CreateIntent handles POST /api/v1/checkout/payment-intents.
func (h *CheckoutHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	intent, err := h.intents.CreateIntent(r.Context(), req.CartID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: intent})
}

// UpdateIntent handles PUT /api/v1/checkout/payment-intents/{id}.
func (h *CheckoutHandler) UpdateIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "id")

	var req UpdateIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	intent, err := h.intents.UpdateIntent(r.Context(), intentID, service.SelectedRateInput{
		RateID:       req.Rate.ID,
		Carrier:      req.Rate.Carrier,
		Service:      req.Rate.Service,
		AmountCents:  req.Rate.AmountCents,
		DeliveryDays: req.Rate.DeliveryDays,
	}, req.TotalCents)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: intent})
}

// Complete handles POST /api/v1/checkout/complete.
// Runs the completion saga; safe to call repeatedly for the same payment.
func (h *CheckoutHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.completer.Complete(r.Context(), req.PaymentIntentID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/checkout/orders?payment_intent_id=...
// Answers "did this payment produce an order" for post-redirect polling.
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	paymentIntentID := r.URL.Query().Get("payment_intent_id")
	if paymentIntentID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "payment_intent_id query parameter is required"},
		})
		return
	}

	order, found, err := h.completer.Lookup(r.Context(), paymentIntentID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: OrderLookupResponse{
		Exists: found,
		Order:  order,
	}})
}

// StartSession handles POST /api/v1/checkout/sessions.
func (h *CheckoutHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Start(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: sess})
}

// GetSession handles GET /api/v1/checkout/sessions/{id}.
func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sess})
}

// DispatchEvent handles POST /api/v1/checkout/sessions/{id}/events.
// Applies one state machine event; illegal events leave the state unchanged.
func (h *CheckoutHandler) DispatchEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req DispatchEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ev := domain.CheckoutEvent{
		Type:            domain.EventType(req.Type),
		Rates:           req.Rates,
		RateID:          req.RateID,
		PaymentIntentID: req.PaymentIntentID,
		Message:         req.Message,
	}
	if req.Address != nil {
		addr := req.Address.toDomain()
		ev.Address = &addr
	}

	sess, err := h.sessions.Dispatch(r.Context(), sessionID, ev)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sess})
}

// decodeBody decodes and validates a JSON request body, writing the error
// response itself when something is wrong.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}
