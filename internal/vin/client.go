package vin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client decodes VINs against the external vehicle database service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client targeting the decode service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// decodeResponse mirrors the JSON returned by GET /api/vehicles/{vin}.
type decodeResponse struct {
	Found     bool   `json:"found"`
	Cached    bool   `json:"cached"`
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Trim      string `json:"trim"`
	BodyStyle string `json:"body_style"`
}

// Decode resolves the given normalized VIN. Any non-success response from the
// decode source is treated identically as a decode failure (ErrNotFound).
func (c *Client) Decode(ctx context.Context, vin string) (Identity, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/vehicles/"+vin, nil)
	if err != nil {
		return Identity{}, false, fmt.Errorf("creating decode request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, false, fmt.Errorf("decode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Identity{}, false, fmt.Errorf("decoding VIN %s: %w", vin, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, false, fmt.Errorf("decoding VIN %s: unexpected status %d: %w", vin, resp.StatusCode, ErrNotFound)
	}

	var dr decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return Identity{}, false, fmt.Errorf("decoding response: %w", err)
	}
	if !dr.Found {
		return Identity{}, false, fmt.Errorf("decoding VIN %s: %w", vin, ErrNotFound)
	}

	return Identity{
		VIN:       vin,
		Year:      dr.Year,
		Make:      dr.Make,
		Model:     dr.Model,
		Trim:      dr.Trim,
		BodyStyle: dr.BodyStyle,
	}, dr.Cached, nil
}
