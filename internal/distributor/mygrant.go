package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/vin"
)

// mygrantPositions maps the position codes embedded in Mygrant's results
// markup to canonical positions.
var mygrantPositions = map[string]glass.Position{
	"WS": glass.Windshield,
	"BW": glass.RearWindshield,
	"FD": glass.FrontDriver,
	"FP": glass.FrontPassenger,
	"RD": glass.RearDriver,
	"RP": glass.RearPassenger,
	"QL": glass.QuarterPanelLeft,
	"QR": glass.QuarterPanelRight,
	"VL": glass.VentLeft,
	"VR": glass.VentRight,
	"SR": glass.Sunroof,
	"MR": glass.Moonroof,
}

// Mygrant looks up parts in the Mygrant Glass catalog. The login endpoint is
// JSON but search results come back as an HTML fragment that has to be
// scraped.
type Mygrant struct {
	baseURL     string
	username    string
	encPassword string
	dec         secret.Decryptor
	httpClient  *http.Client
	limiter     *rate.Limiter
	session     *Session
}

// NewMygrant creates an adapter from the given credential.
func NewMygrant(cred Credential, dec secret.Decryptor) *Mygrant {
	return &Mygrant{
		baseURL:     strings.TrimRight(cred.LoginURL, "/"),
		username:    cred.Username,
		encPassword: cred.EncryptedPassword,
		dec:         dec,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (m *Mygrant) Name() string { return "mygrant" }

func (m *Mygrant) SessionValid() bool { return m.session.Valid() }

type mygrantLoginResponse struct {
	Token      string `json:"token"`
	TTLMinutes int    `json:"ttl_minutes"`
}

func (m *Mygrant) Login(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	password, err := m.dec.Decrypt(m.encPassword)
	if err != nil {
		return fmt.Errorf("mygrant: decrypting credential: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"account":  m.username,
		"password": password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mygrant: creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mygrant: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mygrant: login failed with status %d", resp.StatusCode)
	}

	var lr mygrantLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("mygrant: decoding login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("mygrant: login returned empty token")
	}

	m.session = &Session{
		Token:     lr.Token,
		ExpiresAt: time.Now().Add(time.Duration(lr.TTLMinutes) * time.Minute),
	}
	return nil
}

func (m *Mygrant) LookupParts(ctx context.Context, vehicle vin.Identity, positions []glass.Position) ([]glass.PartResult, error) {
	if !m.session.Valid() {
		if err := m.Login(ctx); err != nil {
			return nil, err
		}
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("vin", vehicle.VIN)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/catalog/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("mygrant: creating search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.session.Token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mygrant: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mygrant: search failed with status %d", resp.StatusCode)
	}

	rows, err := parseMygrantResults(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mygrant: parsing results: %w", err)
	}

	wanted := make(map[glass.Position]bool, len(positions))
	for _, pos := range positions {
		wanted[pos] = true
	}

	var results []glass.PartResult
	for _, row := range rows {
		pos, ok := mygrantPositions[strings.ToUpper(row.position)]
		if !ok || !wanted[pos] {
			continue
		}

		result := glass.PartResult{
			NAGSPartNumber:      row.part,
			AlternatePartNumber: row.alt,
			Position:            pos,
			Features:            glass.NormalizeFeatures(row.features),
			Source:              m.Name(),
		}
		priceText := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(row.price), "$"))
		if major, err := strconv.ParseFloat(priceText, 64); err == nil {
			result.Price = &glass.Price{
				Cents:  glass.Cents(major),
				Source: m.Name(),
				AsOf:   time.Now().UTC(),
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// mygrantRow is one scraped results-table row.
type mygrantRow struct {
	position string
	part     string
	alt      string
	features string
	price    string
}

// parseMygrantResults walks the HTML fragment and extracts every <tr> that
// carries a data-position attribute. Cells are identified by class: part,
// alt, features, price.
func parseMygrantResults(r io.Reader) ([]mygrantRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var rows []mygrantRow
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if pos := attrValue(n, "data-position"); pos != "" {
				rows = append(rows, scrapeRow(n, pos))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows, nil
}

func scrapeRow(tr *html.Node, pos string) mygrantRow {
	row := mygrantRow{position: pos}
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "td" {
			continue
		}
		text := strings.TrimSpace(nodeText(c))
		switch attrValue(c, "class") {
		case "part":
			row.part = text
		case "alt":
			row.alt = text
		case "features":
			row.features = text
		case "price":
			row.price = text
		}
	}
	return row
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
