package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/glasspoint/nags/internal/escalation"
	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/pipeline"
	"github.com/glasspoint/nags/internal/storage"
	"github.com/glasspoint/nags/internal/vin"
)

func newTestMCPDeps(t *testing.T, resolver LookupResolver) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:    store,
		Resolver: resolver,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPLookup(t *testing.T) {
	resolver := &fakeResolver{
		out: pipeline.Outcome{
			Success: true,
			Vehicle: vin.Identity{VIN: "1HGCM82633A004352", Year: 2003, Make: "Honda", Model: "Accord"},
			Parts: []glass.PartResult{
				{NAGSPartNumber: "FW2300", Position: glass.Windshield, Source: "pilkington"},
			},
		},
	}
	deps, _ := newTestMCPDeps(t, resolver)

	handler := mcpLookup(deps)
	result, err := handler(context.Background(), makeCallToolRequest("lookup_glass_parts", map[string]interface{}{
		"vin":       "1HGCM82633A004352",
		"positions": []interface{}{"windshield"},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %s", toolText(t, result))
	}

	var out pipeline.Outcome
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if !out.Success || len(out.Parts) != 1 || out.Parts[0].NAGSPartNumber != "FW2300" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if resolver.lastReq.Positions[0] != glass.Windshield {
		t.Errorf("resolver got positions %v", resolver.lastReq.Positions)
	}
}

func TestMCPLookup_MissingVIN(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeResolver{})

	handler := mcpLookup(deps)
	result, err := handler(context.Background(), makeCallToolRequest("lookup_glass_parts", map[string]interface{}{
		"positions": []interface{}{"windshield"},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing vin")
	}
}

func TestMCPLookup_UnknownPosition(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeResolver{})

	handler := mcpLookup(deps)
	result, err := handler(context.Background(), makeCallToolRequest("lookup_glass_parts", map[string]interface{}{
		"vin":       "1HGCM82633A004352",
		"positions": []interface{}{"hood"},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for unknown position")
	}
	if !strings.Contains(toolText(t, result), "hood") {
		t.Errorf("error should name the bad position: %s", toolText(t, result))
	}
}

func TestMCPListEscalations(t *testing.T) {
	deps, store := newTestMCPDeps(t, &fakeResolver{})

	rec := escalation.Record{
		ID:        "esc-mcp-1",
		VIN:       "1HGCM82633A004352",
		Position:  glass.Windshield,
		Urgency:   escalation.UrgencyHigh,
		Status:    escalation.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveEscalation(rec); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	handler := mcpListEscalations(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_escalations", map[string]interface{}{
		"status": "pending",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %s", toolText(t, result))
	}

	var records []escalation.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &records); err != nil {
		t.Fatalf("unmarshal records: %v", err)
	}
	if len(records) != 1 || records[0].ID != "esc-mcp-1" {
		t.Errorf("records = %+v", records)
	}
}

func TestMCPListEscalations_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeResolver{})

	handler := mcpListEscalations(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_escalations", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("text = %q, want []", toolText(t, result))
	}
}

func TestMCPResourcePendingEscalations(t *testing.T) {
	deps, store := newTestMCPDeps(t, &fakeResolver{})

	for _, rec := range []escalation.Record{
		{ID: "a", VIN: "1HGCM82633A004352", Position: glass.Windshield, Urgency: escalation.UrgencyNormal, Status: escalation.StatusPending, CreatedAt: time.Now().UTC()},
		{ID: "b", VIN: "1HGCM82633A004352", Position: glass.RearWindshield, Urgency: escalation.UrgencyNormal, Status: "resolved", CreatedAt: time.Now().UTC()},
	} {
		if err := store.SaveEscalation(rec); err != nil {
			t.Fatalf("SaveEscalation: %v", err)
		}
	}

	handler := mcpResourcePendingEscalations(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("nags://escalations/pending"))
	if err != nil {
		t.Fatalf("resource error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var records []escalation.Record
	if err := json.Unmarshal([]byte(text.Text), &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 1 || records[0].ID != "a" {
		t.Errorf("pending records = %+v, want only record a", records)
	}
}
