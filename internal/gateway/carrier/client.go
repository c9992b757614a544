// Package carrier is the HTTP client for the carrier rate service, which
// quotes shipping prices for an address and parcel.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	"github.com/amingione/fas-checkout/pkg/httpclient"

	"github.com/amingione/fas-checkout/internal/domain"
)

const serviceName = "carrier"

// ErrQuoteTimeout is returned when the rate service does not answer within the
// configured window. Callers treat it as "no rates available" rather than a
// hard failure, because a slow carrier should not block checkout.
var ErrQuoteTimeout = errors.New("carrier rate request timed out")

// Doer executes HTTP requests.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the carrier rate API.
type Client struct {
	http    Doer
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates a carrier rate client.
func NewClient(httpClient Doer, baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Quotes requests shipping rates for a destination and parcel. A timeout is
// reported as ErrQuoteTimeout; any other transport or auth failure is an
// upstream error.
func (c *Client) Quotes(ctx context.Context, address domain.Address, parcel domain.Parcel) ([]domain.ShippingRate, error) {
	type quoteRequest struct {
		ToAddress domain.Address `json:"to_address"`
		Parcel    domain.Parcel  `json:"parcel"`
	}

	payload, err := json.Marshal(quoteRequest{ToAddress: address, Parcel: parcel})
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rates", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrQuoteTimeout
		}
		return nil, apperrors.Upstream(serviceName, 0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Rates []domain.ShippingRate `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	return body.Rates, nil
}
