package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/vin"
)

// pgwPositions maps PGW position codes to canonical positions. PGW uses a
// different code set than Pilkington.
var pgwPositions = map[string]glass.Position{
	"FRONT":      glass.Windshield,
	"BACK":       glass.RearWindshield,
	"DOOR_FL":    glass.FrontDriver,
	"DOOR_FR":    glass.FrontPassenger,
	"DOOR_RL":    glass.RearDriver,
	"DOOR_RR":    glass.RearPassenger,
	"QUARTER_L":  glass.QuarterPanelLeft,
	"QUARTER_R":  glass.QuarterPanelRight,
	"VENT_L":     glass.VentLeft,
	"VENT_R":     glass.VentRight,
	"ROOF":       glass.Sunroof,
	"ROOF_GLASS": glass.Moonroof,
}

// pgwCodeFor returns PGW's native code for a canonical position.
func pgwCodeFor(pos glass.Position) string {
	for code, p := range pgwPositions {
		if p == pos {
			return code
		}
	}
	return ""
}

// PGW looks up parts in the PGW Auto Glass catalog. JSON login with an
// explicit validity timestamp; lookup responses carry string prices in
// major units and attribute arrays instead of a feature string.
type PGW struct {
	baseURL     string
	username    string
	encPassword string
	dec         secret.Decryptor
	httpClient  *http.Client
	limiter     *rate.Limiter
	session     *Session
}

// NewPGW creates an adapter from the given credential.
func NewPGW(cred Credential, dec secret.Decryptor) *PGW {
	return &PGW{
		baseURL:     strings.TrimRight(cred.LoginURL, "/"),
		username:    cred.Username,
		encPassword: cred.EncryptedPassword,
		dec:         dec,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (p *PGW) Name() string { return "pgw" }

func (p *PGW) SessionValid() bool { return p.session.Valid() }

type pgwLoginResponse struct {
	SessionToken string `json:"session_token"`
	ValidUntil   string `json:"valid_until"` // RFC3339
}

func (p *PGW) Login(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	password, err := p.dec.Decrypt(p.encPassword)
	if err != nil {
		return fmt.Errorf("pgw: decrypting credential: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"user": p.username,
		"pass": password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pgw: creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pgw: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pgw: login failed with status %d", resp.StatusCode)
	}

	var lr pgwLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("pgw: decoding login response: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, lr.ValidUntil)
	if err != nil {
		return fmt.Errorf("pgw: parsing session expiry: %w", err)
	}

	p.session = &Session{Token: lr.SessionToken, ExpiresAt: expires}
	return nil
}

type pgwResult struct {
	PartNumber  string   `json:"part_number"`
	Interchange string   `json:"interchange"`
	Position    string   `json:"position"`
	Attributes  []string `json:"attributes"`
	Price       string   `json:"price"` // major units, e.g. "45.50"
}

type pgwSearchResponse struct {
	Results []pgwResult `json:"results"`
}

func (p *PGW) LookupParts(ctx context.Context, vehicle vin.Identity, positions []glass.Position) ([]glass.PartResult, error) {
	if !p.session.Valid() {
		if err := p.Login(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(positions))
	for _, pos := range positions {
		if code := pgwCodeFor(pos); code != "" {
			codes = append(codes, code)
		}
	}

	body, err := json.Marshal(map[string]any{
		"vin_pattern": vehicle.Pattern(),
		"positions":   codes,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/parts/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pgw: creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Token", p.session.Token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pgw: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pgw: search failed with status %d", resp.StatusCode)
	}

	var sr pgwSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("pgw: decoding search response: %w", err)
	}

	wanted := make(map[glass.Position]bool, len(positions))
	for _, pos := range positions {
		wanted[pos] = true
	}

	var results []glass.PartResult
	for _, r := range sr.Results {
		pos, ok := pgwPositions[strings.ToUpper(r.Position)]
		if !ok || !wanted[pos] {
			continue
		}

		result := glass.PartResult{
			NAGSPartNumber:      r.PartNumber,
			AlternatePartNumber: r.Interchange,
			Position:            pos,
			Features:            glass.NormalizeFeatures(strings.Join(r.Attributes, " ")),
			Source:              p.Name(),
		}
		if major, err := strconv.ParseFloat(strings.TrimSpace(r.Price), 64); err == nil {
			result.Price = &glass.Price{
				Cents:  glass.Cents(major),
				Source: p.Name(),
				AsOf:   time.Now().UTC(),
			}
		}
		results = append(results, result)
	}
	return results, nil
}
