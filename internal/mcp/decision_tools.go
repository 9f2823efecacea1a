package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/resolve"
)

func registerDecisionsListTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("decisions_list",
		mcp.WithDescription("List near-duplicate decisions waiting for decision_resolve, oldest first. Read-only."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pending := sess.broker.Pending()
		return jsonResult(map[string]interface{}{
			"pending": pending,
			"count":   len(pending),
		}), nil
	})
}

func registerDecisionResolveTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("decision_resolve",
		mcp.WithDescription("Answer a pending near-duplicate decision. merge keeps the existing entity, hypothetical creates the new entity linked to the match, create keeps both unlinked, cancel discards the new value."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("request_id",
			mcp.Required(),
			mcp.Description("Pending request id returned by entity_add"),
		),
		mcp.WithString("decision",
			mcp.Required(),
			mcp.Description("What to do with the candidate"),
			mcp.Enum(string(resolve.DecideMerge), string(resolve.DecideHypothetical), string(resolve.DecideCreate), string(resolve.DecideCancel)),
		),
		mcp.WithString("target_id",
			mcp.Description("Match to merge into or link to (default: best match)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("request_id")
		if err != nil {
			return mcp.NewToolResultError("request_id is required"), nil
		}
		raw, err := req.RequireString("decision")
		if err != nil {
			return mcp.NewToolResultError("decision is required"), nil
		}
		kind, err := resolve.ParseDecisionKind(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		pendingReq, ok := sess.broker.Lookup(id)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("request %s is not pending", id)), nil
		}
		target := req.GetString("target_id", "")
		if target != "" && !hasMatch(pendingReq, target) {
			return mcp.NewToolResultError(fmt.Sprintf("target %s is not a match of request %s", target, id)), nil
		}

		done, ok := sess.takeWaiter(id)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("request %s is not pending", id)), nil
		}
		if err := sess.broker.Resolve(id, resolve.Decision{Kind: kind, TargetID: target}); err != nil {
			return errorResult("decision_resolve", err), nil
		}
		sess.log.Info("decision resolved", "request_id", id, "decision", kind, "target_id", target)

		in := graph.EntityInput{Kind: graph.EntityType(pendingReq.Kind), Value: pendingReq.CandidateValue}
		select {
		case res := <-done:
			return sess.finishAdd(ctx, in, res), nil
		case <-ctx.Done():
			res := <-done
			sess.finishAdd(context.Background(), in, res)
			return errorResult("decision_resolve", ctx.Err()), nil
		}
	})
}

func hasMatch(req resolve.Request, id string) bool {
	for _, m := range req.Matches {
		if m.EntityID == id {
			return true
		}
	}
	return false
}
