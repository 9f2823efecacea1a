package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, sess *session) {
	resource := mcp.NewResource(
		"casegraph://stats",
		"Graph Statistics",
		mcp.WithResourceDescription("Entity, relationship and cluster counts, undo depth and project store totals."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		payload := map[string]interface{}{
			"project": sess.project,
			"graph":   sess.eng.Stats(),
			"pending": len(sess.broker.Pending()),
		}
		if sess.st != nil {
			stats, err := sess.st.Stats(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading store stats: %w", err)
			}
			payload["store"] = stats
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerDecisionsResource(s *server.MCPServer, sess *session) {
	resource := mcp.NewResource(
		"casegraph://decisions",
		"Pending Decisions",
		mcp.WithResourceDescription("Near-duplicate decisions waiting for decision_resolve."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		pending := sess.broker.Pending()
		payload := map[string]interface{}{
			"pending": pending,
			"count":   len(pending),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerDocumentResource(s *server.MCPServer, sess *session) {
	resource := mcp.NewResource(
		"casegraph://document",
		"Graph Document",
		mcp.WithResourceDescription("The current persisted graph document."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := sess.eng.ExportJSON()
		if err != nil {
			return nil, fmt.Errorf("exporting document: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
