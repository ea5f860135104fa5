package distributor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
)

func TestPGWLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			json.NewEncoder(w).Encode(map[string]any{
				"session_token": "pgw-tok",
				"valid_until":   time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		case "/parts/search":
			if r.Header.Get("X-Session-Token") != "pgw-tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var req struct {
				VINPattern string   `json:"vin_pattern"`
				Positions  []string `json:"positions"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.VINPattern != "1HGCM82633A" {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"part_number": "FW02633", "interchange": "DW01550", "position": "FRONT",
						"attributes": []string{"RS", "HUD"}, "price": "45.50"},
					{"part_number": "DD00991", "position": "DOOR_FL",
						"attributes": []string{}, "price": "not-a-price"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPGW(Credential{
		LoginURL:          srv.URL,
		Username:          "shop1",
		EncryptedPassword: encPassword(t, "pw"),
	}, secret.Base64{})

	parts, err := p.LookupParts(context.Background(), testVehicle,
		[]glass.Position{glass.Windshield, glass.FrontDriver})
	if err != nil {
		t.Fatalf("LookupParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}

	ws := parts[0]
	if ws.Position != glass.Windshield || ws.AlternatePartNumber != "DW01550" {
		t.Errorf("unexpected windshield part: %+v", ws)
	}
	if ws.Price == nil || ws.Price.Cents != 4550 {
		t.Errorf("windshield price = %+v, want 4550 cents", ws.Price)
	}
	if len(ws.Features) != 2 || ws.Features[0] != "rain_sensor" || ws.Features[1] != "hud" {
		t.Errorf("Features = %v, want [rain_sensor hud]", ws.Features)
	}

	// Unparseable price yields a part with no price rather than a dropped part.
	if parts[1].Price != nil {
		t.Errorf("expected nil price for unparseable value, got %+v", parts[1].Price)
	}
}

func TestPGWSessionExpiryParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_token": "x", "valid_until": "yesterday"})
	}))
	defer srv.Close()

	p := NewPGW(Credential{LoginURL: srv.URL, Username: "u", EncryptedPassword: encPassword(t, "pw")}, secret.Base64{})
	if err := p.Login(context.Background()); err == nil {
		t.Error("Login succeeded with unparseable expiry, want error")
	}
}
