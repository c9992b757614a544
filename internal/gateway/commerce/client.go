// Package commerce is the HTTP client for the commerce engine, the system of
// record for carts, shipping options, payment collections, and orders.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	"github.com/amingione/fas-checkout/pkg/httpclient"

	"github.com/amingione/fas-checkout/internal/domain"
)

const serviceName = "commerce-engine"

// ErrCartCompleted is returned by CompleteCart when the engine rejects the
// request because the cart has already produced an order. Callers resolve it
// by looking up the existing order instead of treating it as a failure.
var ErrCartCompleted = errors.New("cart already completed")

// Doer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy this.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ShippingOption is a shipping method the engine can attach to a cart.
type ShippingOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Carrier     string `json:"carrier"`
	Service     string `json:"service"`
	AmountCents int64  `json:"amount_cents"`
}

// Client talks to the commerce engine's store API.
type Client struct {
	http    Doer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a commerce engine client.
func NewClient(httpClient Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// GetCart fetches a cart by id.
func (c *Client) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/store/carts/"+url.PathEscape(cartID), nil)
	if err != nil {
		return nil, fmt.Errorf("create get cart request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Cart domain.Cart `json:"cart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode cart response: %w", err)
	}
	return &body.Cart, nil
}

// UpdateAddress writes the shipping address and contact email onto a cart.
func (c *Client) UpdateAddress(ctx context.Context, cartID string, address domain.Address, email string) (*domain.Cart, error) {
	type updateRequest struct {
		Email           string         `json:"email,omitempty"`
		ShippingAddress domain.Address `json:"shipping_address"`
	}

	payload, err := json.Marshal(updateRequest{Email: email, ShippingAddress: address})
	if err != nil {
		return nil, fmt.Errorf("marshal cart update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store/carts/"+url.PathEscape(cartID), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create cart update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Cart domain.Cart `json:"cart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode cart update response: %w", err)
	}
	return &body.Cart, nil
}

// ListShippingOptions returns the shipping options valid for a cart.
func (c *Client) ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/store/shipping-options?cart_id="+url.QueryEscape(cartID), nil)
	if err != nil {
		return nil, fmt.Errorf("create shipping options request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		ShippingOptions []ShippingOption `json:"shipping_options"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode shipping options response: %w", err)
	}
	return body.ShippingOptions, nil
}

// AddShippingMethod attaches a shipping option to the cart at the given price.
func (c *Client) AddShippingMethod(ctx context.Context, cartID, optionID string, amountCents int64) error {
	type addRequest struct {
		OptionID    string `json:"option_id"`
		AmountCents int64  `json:"amount_cents"`
	}

	payload, err := json.Marshal(addRequest{OptionID: optionID, AmountCents: amountCents})
	if err != nil {
		return fmt.Errorf("marshal shipping method request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store/carts/"+url.PathEscape(cartID)+"/shipping-methods", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create shipping method request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	return nil
}

// CreatePaymentCollection opens a payment collection for the cart and returns
// its id. The engine returns the existing collection if one is already open,
// so the call is safe to repeat.
func (c *Client) CreatePaymentCollection(ctx context.Context, cartID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"cart_id": cartID})
	if err != nil {
		return "", fmt.Errorf("marshal payment collection request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store/payment-collections", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create payment collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		PaymentCollection struct {
			ID string `json:"id"`
		} `json:"payment_collection"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode payment collection response: %w", err)
	}
	if body.PaymentCollection.ID == "" {
		return "", fmt.Errorf("%s returned payment collection without id", serviceName)
	}
	return body.PaymentCollection.ID, nil
}

// CreatePaymentSession opens a payment session on a collection for the given
// provider. Repeating the call refreshes the existing session.
func (c *Client) CreatePaymentSession(ctx context.Context, collectionID, providerID string) error {
	payload, err := json.Marshal(map[string]string{"provider_id": providerID})
	if err != nil {
		return fmt.Errorf("marshal payment session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store/payment-collections/"+url.PathEscape(collectionID)+"/payment-sessions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create payment session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	return nil
}

// CompleteCart converts the cart into an order. The engine enforces that a
// cart completes exactly once; a repeat attempt yields ErrCartCompleted.
func (c *Client) CompleteCart(ctx context.Context, cartID string) (*domain.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store/carts/"+url.PathEscape(cartID)+"/complete", nil)
	if err != nil {
		return nil, fmt.Errorf("create complete cart request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrCartCompleted
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode complete cart response: %w", err)
	}
	if body.Order.ID == "" {
		return nil, fmt.Errorf("%s completed cart %s without returning an order", serviceName, cartID)
	}
	return &body.Order, nil
}

// GetOrderByCart looks up the order produced by a cart, if any. Returns a
// not-found error when the cart has not been completed.
func (c *Client) GetOrderByCart(ctx context.Context, cartID string) (*domain.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/store/orders?cart_id="+url.QueryEscape(cartID), nil)
	if err != nil {
		return nil, fmt.Errorf("create order lookup request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode order lookup response: %w", err)
	}
	if len(body.Orders) == 0 {
		return nil, apperrors.NotFound("order", "cart "+cartID)
	}
	return &body.Orders[0], nil
}

// upstreamErr classifies a transport-level failure as an upstream outage so
// callers surface 502 instead of a generic internal error.
func upstreamErr(err error) error {
	return apperrors.Upstream(serviceName, 0, err.Error())
}
