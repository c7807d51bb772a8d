package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/portfolio-ledger/internal/types"
)

// HTTPClient reads prices from an external price service over HTTP.
type HTTPClient struct {
	baseURL string
	maxAge  time.Duration
	client  *http.Client
	now     func() time.Time
}

// NewHTTPClient creates a client against the given price service base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		maxAge:  ProtocolPriceMaxAge,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// priceResponse is the wire shape of the price service.
type priceResponse struct {
	Price         string `json:"price"`
	Timestamp     int64  `json:"timestamp"`
	ConfidenceBps int64  `json:"confidenceBps"`
}

func (c *HTTPClient) fetch(ctx context.Context, asset types.Address) (*PriceData, error) {
	url := fmt.Sprintf("%s/v1/prices/%s", c.baseURL, asset.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPriceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price service returned status %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	price, ok := new(big.Int).SetString(body.Price, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price value: %s", body.Price)
	}

	return &PriceData{
		Price:         price,
		Timestamp:     time.Unix(body.Timestamp, 0).UTC(),
		ConfidenceBps: body.ConfidenceBps,
	}, nil
}

// Price implements the strict read mode.
func (c *HTTPClient) Price(ctx context.Context, asset types.Address) (*PriceData, error) {
	data, err := c.fetch(ctx, asset)
	if err != nil {
		return nil, err
	}
	if c.now().Sub(data.Timestamp) > c.maxAge {
		return nil, ErrStalePrice
	}
	return data, nil
}

// PriceUnsafe implements the best-effort read mode.
func (c *HTTPClient) PriceUnsafe(ctx context.Context, asset types.Address) (*PriceData, error) {
	return c.fetch(ctx, asset)
}
