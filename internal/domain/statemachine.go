package domain

// Status is a phase of the client-side checkout flow.
type Status string

const (
	StatusCartReady          Status = "CART_READY"
	StatusAddressRequired    Status = "CHECKOUT_ADDRESS_REQUIRED"
	StatusAddressValid       Status = "ADDRESS_VALID"
	StatusRatesLoading       Status = "RATES_LOADING"
	StatusRatesReady         Status = "RATES_READY"
	StatusRateSelected       Status = "RATE_SELECTED"
	StatusPaymentCreating    Status = "PAYMENT_CREATING"
	StatusPaymentRedirecting Status = "PAYMENT_REDIRECTING"
	StatusError              Status = "ERROR"
)

// EventType identifies a checkout event.
type EventType string

const (
	EventStartCheckout      EventType = "START_CHECKOUT"
	EventAddressUpdated     EventType = "ADDRESS_UPDATED"
	EventAddressValidatedOK EventType = "ADDRESS_VALIDATED_OK"
	EventRequestRates       EventType = "REQUEST_RATES"
	EventRatesSuccess       EventType = "RATES_SUCCESS"
	EventRatesFail          EventType = "RATES_FAIL"
	EventSelectRate         EventType = "SELECT_RATE"
	EventCreatePayment      EventType = "CREATE_PAYMENT"
	EventPaymentCreated     EventType = "PAYMENT_CREATED"
	EventPaymentFail        EventType = "PAYMENT_FAIL"
	EventCartChanged        EventType = "CART_CHANGED"
	EventResetError         EventType = "RESET_ERROR"
)

// CheckoutEvent is an input to the checkout state machine. Only the fields
// relevant to the event type are set.
type CheckoutEvent struct {
	Type            EventType      `json:"type"`
	Address         *Address       `json:"address,omitempty"`
	Rates           []ShippingRate `json:"rates,omitempty"`
	RateID          string         `json:"rate_id,omitempty"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// CheckoutState is the full state of one checkout session. It is a plain value;
// Reduce never mutates its input.
type CheckoutState struct {
	Status          Status         `json:"status"`
	LastSafeStatus  Status         `json:"last_safe_status"`
	Address         *Address       `json:"address,omitempty"`
	Rates           []ShippingRate `json:"rates,omitempty"`
	SelectedRate    *ShippingRate  `json:"selected_rate,omitempty"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// NewCheckoutState returns the initial state of a checkout session.
func NewCheckoutState() CheckoutState {
	return CheckoutState{
		Status:         StatusCartReady,
		LastSafeStatus: StatusCartReady,
	}
}

var safeStatuses = map[Status]bool{
	StatusCartReady:          true,
	StatusAddressRequired:    true,
	StatusAddressValid:       true,
	StatusRatesReady:         true,
	StatusRateSelected:       true,
	StatusPaymentRedirecting: true,
}

// IsSafe reports whether a status is resumable, i.e. the UI can return to it
// after an error without repeating an in-flight operation.
func IsSafe(s Status) bool {
	return safeStatuses[s]
}

// Reduce applies an event to a state and returns the next state. Events that
// are not legal in the current status leave the state unchanged, so a stale
// double-click or an out-of-order async callback is harmless.
func Reduce(state CheckoutState, ev CheckoutEvent) CheckoutState {
	next := state

	switch ev.Type {
	case EventStartCheckout:
		if state.Status != StatusCartReady {
			return state
		}
		next.Status = StatusAddressRequired

	case EventAddressUpdated:
		switch state.Status {
		case StatusAddressRequired, StatusAddressValid, StatusRatesReady, StatusRateSelected:
		default:
			return state
		}
		if ev.Address == nil {
			return state
		}
		// A new address invalidates every quote derived from the old one.
		next.Status = StatusAddressRequired
		next.Address = ev.Address
		next.Rates = nil
		next.SelectedRate = nil

	case EventAddressValidatedOK:
		if state.Status != StatusAddressRequired || state.Address == nil {
			return state
		}
		next.Status = StatusAddressValid

	case EventRequestRates:
		if state.Status != StatusAddressValid {
			return state
		}
		next.Status = StatusRatesLoading

	case EventRatesSuccess:
		if state.Status != StatusRatesLoading {
			return state
		}
		// An empty quote list is a valid outcome, not an error.
		next.Status = StatusRatesReady
		next.Rates = ev.Rates
		next.SelectedRate = nil

	case EventRatesFail:
		if state.Status != StatusRatesLoading {
			return state
		}
		next.Status = StatusError
		next.ErrorMessage = ev.Message

	case EventSelectRate:
		if state.Status != StatusRatesReady && state.Status != StatusRateSelected {
			return state
		}
		rate, ok := findRate(state.Rates, ev.RateID)
		if !ok {
			return state
		}
		next.Status = StatusRateSelected
		next.SelectedRate = &rate

	case EventCreatePayment:
		// Carts with nothing to ship may proceed without a rate selection.
		switch {
		case state.Status == StatusRateSelected:
		case state.Status == StatusRatesReady && len(state.Rates) == 0:
		default:
			return state
		}
		next.Status = StatusPaymentCreating

	case EventPaymentCreated:
		if state.Status != StatusPaymentCreating || ev.PaymentIntentID == "" {
			return state
		}
		next.Status = StatusPaymentRedirecting
		next.PaymentIntentID = ev.PaymentIntentID

	case EventPaymentFail:
		if state.Status != StatusPaymentCreating {
			return state
		}
		next.Status = StatusError
		next.ErrorMessage = ev.Message

	case EventCartChanged:
		switch state.Status {
		case StatusAddressValid, StatusRatesReady, StatusRateSelected:
		default:
			return state
		}
		// Quotes and amounts are stale once the cart contents change.
		next.Status = StatusAddressValid
		next.Rates = nil
		next.SelectedRate = nil

	case EventResetError:
		if state.Status != StatusError {
			return state
		}
		next.Status = state.LastSafeStatus
		next.ErrorMessage = ""

	default:
		return state
	}

	if IsSafe(next.Status) {
		next.LastSafeStatus = next.Status
	}
	return next
}

func findRate(rates []ShippingRate, id string) (ShippingRate, bool) {
	for _, r := range rates {
		if r.ID == id {
			return r, true
		}
	}
	return ShippingRate{}, false
}
