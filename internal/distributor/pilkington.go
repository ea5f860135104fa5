package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/vin"
)

// pilkingtonPositions maps Pilkington glass type codes to canonical positions.
var pilkingtonPositions = map[string]glass.Position{
	"WS": glass.Windshield,
	"BK": glass.RearWindshield,
	"DF": glass.FrontDriver,
	"PF": glass.FrontPassenger,
	"DR": glass.RearDriver,
	"PR": glass.RearPassenger,
	"QL": glass.QuarterPanelLeft,
	"QR": glass.QuarterPanelRight,
	"VL": glass.VentLeft,
	"VR": glass.VentRight,
	"SR": glass.Sunroof,
	"MR": glass.Moonroof,
}

// Pilkington looks up parts in the Pilkington e-commerce catalog. Token auth,
// JSON responses with float list prices.
type Pilkington struct {
	baseURL     string
	username    string
	encPassword string
	dec         secret.Decryptor
	httpClient  *http.Client
	limiter     *rate.Limiter
	session     *Session
}

// NewPilkington creates an adapter from the given credential.
func NewPilkington(cred Credential, dec secret.Decryptor) *Pilkington {
	return &Pilkington{
		baseURL:     strings.TrimRight(cred.LoginURL, "/"),
		username:    cred.Username,
		encPassword: cred.EncryptedPassword,
		dec:         dec,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

func (p *Pilkington) Name() string { return "pilkington" }

func (p *Pilkington) SessionValid() bool { return p.session.Valid() }

type pilkingtonAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// Login authenticates and stores a fresh session token.
func (p *Pilkington) Login(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	password, err := p.dec.Decrypt(p.encPassword)
	if err != nil {
		return fmt.Errorf("pilkington: decrypting credential: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"username": p.username,
		"password": password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pilkington: creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pilkington: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pilkington: login failed with status %d", resp.StatusCode)
	}

	var ar pilkingtonAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("pilkington: decoding login response: %w", err)
	}
	if ar.Token == "" {
		return fmt.Errorf("pilkington: login returned empty token")
	}

	p.session = &Session{
		Token:     ar.Token,
		ExpiresAt: time.Now().Add(time.Duration(ar.ExpiresIn) * time.Second),
	}
	return nil
}

type pilkingtonPart struct {
	NAGSNo    string  `json:"nags_no"`
	AltNo     string  `json:"alt_no"`
	GlassType string  `json:"glass_type"`
	Features  string  `json:"features"`
	ListPrice float64 `json:"list_price"`
}

type pilkingtonPartsResponse struct {
	Parts []pilkingtonPart `json:"parts"`
}

// LookupParts queries the catalog for the requested positions, re-logging in
// first if the session is absent or expired.
func (p *Pilkington) LookupParts(ctx context.Context, vehicle vin.Identity, positions []glass.Position) ([]glass.PartResult, error) {
	if !p.session.Valid() {
		if err := p.Login(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("year", strconv.Itoa(vehicle.Year))
	q.Set("make", vehicle.Make)
	q.Set("model", vehicle.Model)
	q.Set("pattern", vehicle.Pattern())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/parts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pilkington: creating parts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.session.Token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pilkington: parts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pilkington: parts lookup failed with status %d", resp.StatusCode)
	}

	var pr pilkingtonPartsResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("pilkington: decoding parts response: %w", err)
	}

	wanted := make(map[glass.Position]bool, len(positions))
	for _, pos := range positions {
		wanted[pos] = true
	}

	var results []glass.PartResult
	for _, part := range pr.Parts {
		pos, ok := pilkingtonPositions[strings.ToUpper(part.GlassType)]
		if !ok || !wanted[pos] {
			continue
		}
		results = append(results, glass.PartResult{
			NAGSPartNumber:      part.NAGSNo,
			AlternatePartNumber: part.AltNo,
			Position:            pos,
			Features:            glass.NormalizeFeatures(part.Features),
			Price: &glass.Price{
				Cents:  glass.Cents(part.ListPrice),
				Source: p.Name(),
				AsOf:   time.Now().UTC(),
			},
			Source: p.Name(),
		})
	}
	return results, nil
}
