// Package mcp registers the verification network tools on an MCP server so
// agent clients can submit records and inspect scores over stdio.
package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/internal/verify"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

// NewServer creates an MCPServer with all verification tools registered.
func NewServer(database *db.DB, engine *verify.Engine, auditLog audit.Logger) *server.MCPServer {
	srv := server.NewMCPServer(
		"hashguard",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerSubmitRecord(srv, engine, auditLog)
	registerCheckDuplicate(srv, database)
	registerListNetworks(srv, database)
	registerListAlerts(srv, database)
	registerGetElo(srv, database)

	return srv
}

// --- submit_record ---

func registerSubmitRecord(srv *server.MCPServer, engine *verify.Engine, auditLog audit.Logger) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scope":         map[string]string{"type": "string", "description": "Network ID, or omit for the personal vault"},
			"file_name":     map[string]string{"type": "string", "description": "Original file name"},
			"fingerprint":   map[string]string{"type": "string", "description": "Content fingerprint (CID)"},
			"sha256_hash":   map[string]string{"type": "string", "description": "Hex sha256 of the raw bytes"},
			"size":          map[string]string{"type": "number", "description": "Size in bytes"},
			"retrieval_url": map[string]string{"type": "string", "description": "Gateway URL for the pinned content"},
			"uploader":      map[string]string{"type": "string", "description": "Uploader wallet address"},
			"uploader_name": map[string]string{"type": "string", "description": "Display name"},
		},
		"required": []string{"file_name", "fingerprint", "uploader"},
	})
	tool := mcp.NewToolWithRawSchema("submit_record",
		"Submit an already-pinned file record for duplicate verification", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		desc := verify.Descriptor{
			FileName:     stringArg(args, "file_name"),
			Fingerprint:  stringArg(args, "fingerprint"),
			Sha256Hash:   stringArg(args, "sha256_hash"),
			Size:         int64(numberArg(args, "size")),
			RetrievalURL: stringArg(args, "retrieval_url"),
		}
		uploader := stringArg(args, "uploader")
		scope := stringArg(args, "scope")

		outcome, err := engine.SubmitUpload(ctx, scope, desc, uploader, stringArg(args, "uploader_name"))
		if auditLog != nil {
			entry := &audit.Entry{
				Action:     "submit_record",
				Transport:  "mcp",
				Principal:  uploader,
				Scope:      scope,
				Parameters: desc.FileName,
			}
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Result = fmt.Sprintf("accepted=%t delta=%d", outcome.Accepted, outcome.EloDelta)
			}
			auditLog.LogAsync(entry)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(outcome)
	})
}

// --- check_duplicate ---

func registerCheckDuplicate(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scope":       map[string]string{"type": "string", "description": "Network ID to check within"},
			"fingerprint": map[string]string{"type": "string", "description": "Content fingerprint (CID)"},
		},
		"required": []string{"scope", "fingerprint"},
	})
	tool := mcp.NewToolWithRawSchema("check_duplicate",
		"Check whether a fingerprint is already recorded in a network", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		record, err := database.FindFileByFingerprint(stringArg(args, "scope"), stringArg(args, "fingerprint"))
		if errors.Is(err, sql.ErrNoRows) {
			return jsonResult(map[string]bool{"duplicate": false})
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"duplicate": true, "original": record})
	})
}

// --- list_networks ---

func registerListNetworks(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"address": map[string]string{"type": "string", "description": "Wallet address"},
		},
		"required": []string{"address"},
	})
	tool := mcp.NewToolWithRawSchema("list_networks",
		"List the networks a wallet address belongs to", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		address := stringArg(req.GetArguments(), "address")
		networks, err := database.NetworksFor(address)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		for _, n := range networks {
			if n.AdminAddress != address {
				n.JoinSecret = ""
			}
		}
		return jsonResult(map[string]any{"networks": networks})
	})
}

// --- list_alerts ---

func registerListAlerts(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"network_id": map[string]string{"type": "string", "description": "Network ID"},
		},
		"required": []string{"network_id"},
	})
	tool := mcp.NewToolWithRawSchema("list_alerts",
		"List a network's duplicate alerts, newest first", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		alerts, err := database.AlertsByNetwork(stringArg(req.GetArguments(), "network_id"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"alerts": alerts})
	})
}

// --- get_elo ---

func registerGetElo(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"address": map[string]string{"type": "string", "description": "Wallet address"},
		},
		"required": []string{"address"},
	})
	tool := mcp.NewToolWithRawSchema("get_elo",
		"Get the global verification score for a wallet address", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		address := stringArg(req.GetArguments(), "address")
		elo, err := database.GetElo(address)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"address": address, "elo": elo})
	})
}

// --- helpers ---

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numberArg(args map[string]any, key string) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return 0
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
