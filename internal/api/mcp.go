package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/glasspoint/nags/internal/escalation"
	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/pipeline"
	"github.com/glasspoint/nags/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Resolver LookupResolver
}

// NewMCPServer creates an MCP server exposing glass-part lookup and the
// research queue to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nags",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nags — vehicle glass part resolution: VIN decode, distributor lookup, pricing fallback, and a manual research queue."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("lookup_glass_parts",
			mcp.WithDescription("Resolve NAGS part numbers and prices for a vehicle by VIN and glass positions. Unresolvable positions are queued for human research."),
			mcp.WithString("vin", mcp.Description("17-character vehicle identification number"), mcp.Required()),
			mcp.WithArray("positions", mcp.Description("Glass positions to resolve (e.g. windshield, rear_windshield, front_driver)"), mcp.Required()),
			mcp.WithString("urgency", mcp.Description("Escalation urgency if research is needed: low, normal, high, urgent")),
		),
		mcpLookup(deps),
	)

	s.AddTool(
		mcp.NewTool("list_escalations",
			mcp.WithDescription("List escalation records in the manual research queue."),
			mcp.WithString("status", mcp.Description("Filter by status (e.g. pending); empty returns all")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 20)")),
		),
		mcpListEscalations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"nags://escalations/pending",
			"Pending Escalations",
			mcp.WithResourceDescription("Escalation records awaiting human research, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePendingEscalations(deps),
	)

	return s
}

func mcpLookup(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawVIN, err := req.RequireString("vin")
		if err != nil {
			return mcpError("vin is required"), nil
		}

		rawPositions := req.GetStringSlice("positions", nil)
		if len(rawPositions) == 0 {
			return mcpError("positions is required"), nil
		}
		positions := make([]glass.Position, 0, len(rawPositions))
		for _, raw := range rawPositions {
			pos, err := glass.ParsePosition(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			positions = append(positions, pos)
		}

		urgency := escalation.Urgency(req.GetString("urgency", ""))
		if urgency != "" && !urgency.Valid() {
			return mcpError(fmt.Sprintf("invalid urgency %q", urgency)), nil
		}

		out, err := deps.Resolver.Lookup(ctx, pipeline.Request{
			VIN:       rawVIN,
			Positions: positions,
			Urgency:   urgency,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListEscalations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		records, err := deps.Store.ListEscalations(status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list escalations: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal records: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePendingEscalations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.ListEscalations(escalation.StatusPending, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending escalations: %w", err)
		}
		if records == nil {
			records = []escalation.Record{}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal records: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
