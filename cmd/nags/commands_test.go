package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestLookupRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /lookup": `{
			"success": true,
			"vehicle": {"vin":"1HGCM82633A004352","year":2003,"make":"Honda","model":"Accord"},
			"parts": [{"nags_part_number":"FW2300","position":"windshield","source":"pilkington","price":{"cents":24999,"source":"pilkington"}}],
			"resolved_tier_per_position": {"windshield":"distributor"},
			"resolved_source_per_position": {"windshield":"pilkington"},
			"total_duration_ms": 840
		}`,
	})

	client := ts.client()

	req := map[string]any{
		"vin":       "1HGCM82633A004352",
		"positions": []string{"windshield"},
		"urgency":   "high",
	}
	resp, err := client.post(ctx, "/lookup", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out lookupOutcome
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if !out.Success {
		t.Error("success = false, want true")
	}
	if len(out.Parts) != 1 || out.Parts[0].NAGSPartNumber != "FW2300" {
		t.Errorf("parts = %+v", out.Parts)
	}
	if out.Parts[0].Price == nil || out.Parts[0].Price.Cents != 24999 {
		t.Errorf("price = %+v", out.Parts[0].Price)
	}
	if out.ResolvedTier["windshield"] != "distributor" {
		t.Errorf("resolved tier = %v", out.ResolvedTier)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/lookup" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["vin"] != "1HGCM82633A004352" {
		t.Errorf("body.vin = %v", body["vin"])
	}
	if body["urgency"] != "high" {
		t.Errorf("body.urgency = %v", body["urgency"])
	}
}

func TestLookupCommand_MissingPositions(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"lookup", "1HGCM82633A004352"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --positions")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestEscalationsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /escalations": `[{
			"id":"3f2a1b9c-0000-0000-0000-000000000000",
			"vin":"1HGCM82633A004352",
			"position":"rear_windshield",
			"year":2003,"make":"Honda","model":"Accord",
			"urgency":"normal","status":"pending",
			"created_at":"2026-08-30T12:00:00Z"
		}]`,
	})

	client := ts.client()

	resp, err := client.get(ctx, "/escalations?status=pending&limit=50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var records []struct {
		ID       string `json:"id"`
		Position string `json:"position"`
		Status   string `json:"status"`
	}
	if err := decodeJSON(resp, &records); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(records) != 1 || records[0].Position != "rear_windshield" {
		t.Errorf("records = %+v", records)
	}

	if ts.requests[0].Path != "/escalations?status=pending&limit=50" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestCredentialsPatch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /credentials/pilkington": `{"distributor":"pilkington","status":"updated"}`,
	})

	client := ts.client()

	resp, err := client.patch(ctx, "/credentials/pilkington", map[string]any{"active": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "updated" {
		t.Errorf("status = %q", result["status"])
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["active"] != false {
		t.Errorf("body.active = %v, want false", body["active"])
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/escalations/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(5, 100); got != "5" {
		t.Errorf("countLabel(5, 100) = %q, want 5", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100, 100) = %q, want 100+", got)
	}
}
