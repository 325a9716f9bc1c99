package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Payment is the provider-side view of a captured charge.
type Payment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func (p Payment) Captured() bool {
	return p.Status == "captured"
}

// Client fetches payments from the provider's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *Client) Fetch(ctx context.Context, paymentRef string) (Payment, error) {
	var payment Payment

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentRef, nil)
	if err != nil {
		return payment, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payment, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return payment, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return payment, fmt.Errorf("decode payment: %w", err)
	}

	return payment, nil
}
