// Package payment is the HTTP client for the payment gateway, which owns
// payment intents and their lifecycle.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	"github.com/amingione/fas-checkout/pkg/httpclient"

	"github.com/amingione/fas-checkout/internal/domain"
)

const serviceName = "payment-gateway"

// Doer executes HTTP requests.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the payment gateway API.
type Client struct {
	http    Doer
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates a payment gateway client. The api key is sent as a bearer
// token on every request.
func NewClient(httpClient Doer, baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// CreateIntentInput holds the parameters for opening a payment intent.
type CreateIntentInput struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// CreateIntent opens a new payment intent.
func (c *Client) CreateIntent(ctx context.Context, input CreateIntentInput) (*domain.PaymentIntent, error) {
	type createRequest struct {
		AmountCents int64             `json:"amount_cents"`
		Currency    string            `json:"currency"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	}

	payload, err := json.Marshal(createRequest{
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create intent request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	return decodeIntent(resp)
}

// GetIntent fetches a payment intent by id, including its current status
// and metadata.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, fmt.Errorf("create get intent request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	return decodeIntent(resp)
}

// UpdateIntentInput holds the mutable fields of a payment intent. Metadata
// entries are merged by the gateway; amount replaces the previous amount.
type UpdateIntentInput struct {
	AmountCents int64
	Metadata    map[string]string
}

// UpdateIntent updates an intent's amount and metadata. The gateway rejects
// updates once the intent has been confirmed, which protects the charged
// amount from late mutation.
func (c *Client) UpdateIntent(ctx context.Context, intentID string, input UpdateIntentInput) (*domain.PaymentIntent, error) {
	type updateRequest struct {
		AmountCents int64             `json:"amount_cents"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	}

	payload, err := json.Marshal(updateRequest{AmountCents: input.AmountCents, Metadata: input.Metadata})
	if err != nil {
		return nil, fmt.Errorf("marshal intent update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents/"+url.PathEscape(intentID), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create intent update request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, upstreamErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	return decodeIntent(resp)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeIntent(resp *http.Response) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode intent response: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%s returned intent without id", serviceName)
	}
	return &intent, nil
}

func upstreamErr(err error) error {
	return apperrors.Upstream(serviceName, 0, err.Error())
}
