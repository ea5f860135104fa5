package distributor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
)

func encPassword(t *testing.T, plain string) string {
	t.Helper()
	enc, err := secret.Base64{}.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return enc
}

func pilkingtonServer(t *testing.T, logins *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "shop1" || body["password"] != "glass-pass" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			atomic.AddInt32(logins, 1)
			json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 3600})
		case "/api/parts":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"parts": []map[string]any{
					{"nags_no": "FW02633", "alt_no": "DW01550", "glass_type": "WS", "features": "RS, ADAS, XYZ", "list_price": 45.50},
					{"nags_no": "SB02633", "glass_type": "BK", "features": "HTD", "list_price": 120.0},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestPilkingtonLookup(t *testing.T) {
	var logins int32
	srv := pilkingtonServer(t, &logins)
	defer srv.Close()

	p := NewPilkington(Credential{
		LoginURL:          srv.URL,
		Username:          "shop1",
		EncryptedPassword: encPassword(t, "glass-pass"),
	}, secret.Base64{})

	if p.SessionValid() {
		t.Error("SessionValid = true before login")
	}

	parts, err := p.LookupParts(context.Background(), testVehicle, []glass.Position{glass.Windshield})
	if err != nil {
		t.Fatalf("LookupParts: %v", err)
	}
	if !p.SessionValid() {
		t.Error("SessionValid = false after lookup")
	}
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1 (rear windshield not requested)", len(parts))
	}

	got := parts[0]
	if got.NAGSPartNumber != "FW02633" || got.AlternatePartNumber != "DW01550" {
		t.Errorf("unexpected part numbers: %+v", got)
	}
	if got.Position != glass.Windshield {
		t.Errorf("Position = %q, want windshield", got.Position)
	}
	if got.Price == nil || got.Price.Cents != 4550 {
		t.Errorf("Price = %+v, want 4550 cents", got.Price)
	}
	wantFeatures := []string{"rain_sensor", "adas", "xyz"}
	if len(got.Features) != len(wantFeatures) {
		t.Fatalf("Features = %v, want %v", got.Features, wantFeatures)
	}
	for i := range wantFeatures {
		if got.Features[i] != wantFeatures[i] {
			t.Errorf("Features = %v, want %v", got.Features, wantFeatures)
			break
		}
	}
}

func TestPilkingtonSessionReuse(t *testing.T) {
	var logins int32
	srv := pilkingtonServer(t, &logins)
	defer srv.Close()

	p := NewPilkington(Credential{
		LoginURL:          srv.URL,
		Username:          "shop1",
		EncryptedPassword: encPassword(t, "glass-pass"),
	}, secret.Base64{})

	for i := 0; i < 2; i++ {
		if _, err := p.LookupParts(context.Background(), testVehicle, []glass.Position{glass.Windshield}); err != nil {
			t.Fatalf("LookupParts #%d: %v", i+1, err)
		}
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Errorf("login count = %d, want 1 (session reused)", n)
	}
}

func TestPilkingtonRelogin(t *testing.T) {
	var logins int32
	srv := pilkingtonServer(t, &logins)
	defer srv.Close()

	p := NewPilkington(Credential{
		LoginURL:          srv.URL,
		Username:          "shop1",
		EncryptedPassword: encPassword(t, "glass-pass"),
	}, secret.Base64{})

	if _, err := p.LookupParts(context.Background(), testVehicle, []glass.Position{glass.Windshield}); err != nil {
		t.Fatalf("LookupParts: %v", err)
	}

	// Expire the session; the next lookup must log in again.
	p.session.ExpiresAt = time.Now().Add(-time.Minute)
	if p.SessionValid() {
		t.Error("SessionValid = true for expired session")
	}

	if _, err := p.LookupParts(context.Background(), testVehicle, []glass.Position{glass.Windshield}); err != nil {
		t.Fatalf("LookupParts after expiry: %v", err)
	}
	if n := atomic.LoadInt32(&logins); n != 2 {
		t.Errorf("login count = %d, want 2", n)
	}
}

func TestPilkingtonBadCredential(t *testing.T) {
	var logins int32
	srv := pilkingtonServer(t, &logins)
	defer srv.Close()

	p := NewPilkington(Credential{
		LoginURL:          srv.URL,
		Username:          "shop1",
		EncryptedPassword: encPassword(t, "wrong"),
	}, secret.Base64{})

	if _, err := p.LookupParts(context.Background(), testVehicle, []glass.Position{glass.Windshield}); err == nil {
		t.Error("LookupParts succeeded with bad credential, want error")
	}
}
