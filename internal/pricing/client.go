// Package pricing is the algorithmic fallback tier: it derives approximate
// parts and prices for positions no distributor could resolve, using the
// external pricing-derivation service. No scraping happens here.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DerivedPart is one line item in a derivation breakdown. The upstream
// service is inconsistent about field names, so both spellings of the part
// number and the price are accepted.
type DerivedPart struct {
	NAGSNumber string  `json:"nagsNumber"`
	PartNumber string  `json:"partNumber"`
	GlassType  string  `json:"glassType"`
	Price      float64 `json:"price"`
	Cost       float64 `json:"cost"`
}

// Breakdown is the parts list of one derivation.
type Breakdown struct {
	Parts []DerivedPart `json:"parts"`
}

// Derivation is the pricing service's response for one VIN.
type Derivation struct {
	Success   bool      `json:"success"`
	Breakdown Breakdown `json:"breakdown"`
}

// Engine derives approximate parts and pricing for a VIN.
type Engine interface {
	Derive(ctx context.Context, vin string) (Derivation, error)
}

// Client calls the pricing-derivation service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client targeting the pricing service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Derive requests a pricing breakdown for the given VIN.
func (c *Client) Derive(ctx context.Context, vin string) (Derivation, error) {
	body, err := json.Marshal(map[string]string{"vin": vin})
	if err != nil {
		return Derivation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/derive", bytes.NewReader(body))
	if err != nil {
		return Derivation{}, fmt.Errorf("creating derive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Derivation{}, fmt.Errorf("derive request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Derivation{}, fmt.Errorf("derive: unexpected status %d", resp.StatusCode)
	}

	var d Derivation
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Derivation{}, fmt.Errorf("decoding derivation: %w", err)
	}
	return d, nil
}
