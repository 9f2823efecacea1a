package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/casegraph/internal/engine"
	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/resolve"
	"github.com/hurttlocker/casegraph/internal/similarity"
)

// Add statuses reported by entity_add and decision_resolve.
const (
	statusCreated   = "created"
	statusExisting  = "existing"
	statusCancelled = "cancelled"
	statusPending   = "pending"
)

type addResponse struct {
	Status  string           `json:"status"`
	Outcome *engine.Outcome  `json:"outcome,omitempty"`
	Request *resolve.Request `json:"request,omitempty"`
	Hint    string           `json:"hint,omitempty"`
}

type entitySummary struct {
	ID         string            `json:"id"`
	Kind       graph.EntityType  `json:"kind"`
	Value      string            `json:"value"`
	Label      string            `json:"label"`
	Notes      string            `json:"notes,omitempty"`
	ClusterID  string            `json:"cluster_id,omitempty"`
	Variations []graph.Variation `json:"variations,omitempty"`
	MergeCount int               `json:"merge_count,omitempty"`
}

func summarize(e graph.Entity) entitySummary {
	return entitySummary{
		ID:         e.ID,
		Kind:       e.Kind,
		Value:      e.Value,
		Label:      e.DisplayLabel(),
		Notes:      e.Attributes.Notes,
		ClusterID:  e.ClusterID,
		Variations: e.Attributes.Variations,
		MergeCount: len(e.Attributes.MergeHistory),
	}
}

func parseKind(raw string) graph.EntityType {
	return graph.EntityType(strings.ToLower(strings.TrimSpace(raw)))
}

func registerEntityAddTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_add",
		mcp.WithDescription("Add a data point to the investigation graph. An exact duplicate returns the existing entity. A near-duplicate returns a pending decision (resolve it with decision_resolve) unless a policy is given."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Entity kind (email, phone, name, username, address, domain, ip, url, ...)"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("The data point itself"),
		),
		mcp.WithString("label",
			mcp.Description("Display label (default: the value)"),
		),
		mcp.WithString("notes",
			mcp.Description("Free-form analyst notes"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Create a separate entity even if the value already exists (default: false)"),
		),
		mcp.WithString("policy",
			mcp.Description("Answer near-duplicate decisions immediately instead of returning a pending decision"),
			mcp.Enum(resolve.PolicyAuto, resolve.PolicyCreate, resolve.PolicyMerge, resolve.PolicyLink, resolve.PolicyCancel),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil || strings.TrimSpace(kind) == "" {
			return mcp.NewToolResultError("kind is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil || strings.TrimSpace(value) == "" {
			return mcp.NewToolResultError("value is required"), nil
		}
		in := graph.EntityInput{
			Kind:           parseKind(kind),
			Value:          value,
			Label:          req.GetString("label", ""),
			Notes:          req.GetString("notes", ""),
			SourceMetadata: map[string]any{"source": "mcp"},
		}
		force := req.GetBool("force", false)

		if policy := req.GetString("policy", ""); policy != "" {
			decider, err := resolve.ParsePolicy(policy)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			out, err := sess.eng.AddEntity(ctx, in, force, decider)
			return sess.finishAdd(ctx, in, addResult{outcome: out, err: err}), nil
		}

		parkedCh := make(chan resolve.Request, 1)
		done := make(chan addResult, 1)
		addCtx, cancel := context.WithTimeout(context.Background(), sess.timeout)
		go func() {
			defer cancel()
			out, err := sess.eng.AddEntity(addCtx, in, force, sess.brokered(parkedCh, done))
			done <- addResult{outcome: out, err: err}
		}()

		select {
		case res := <-done:
			return sess.finishAdd(ctx, in, res), nil
		case pending := <-parkedCh:
			sess.log.Info("decision pending", "request_id", pending.ID, "kind", pending.Kind, "matches", len(pending.Matches))
			return jsonResult(addResponse{
				Status:  statusPending,
				Request: &pending,
				Hint:    "call decision_resolve with this request id and one of merge, hypothetical, create, cancel",
			}), nil
		case <-ctx.Done():
			cancel()
			res := <-done
			sess.finishAdd(context.Background(), in, res)
			return errorResult("entity_add", ctx.Err()), nil
		}
	})
}

// finishAdd persists a created entity and renders the add outcome.
func (s *session) finishAdd(ctx context.Context, in graph.EntityInput, res addResult) *mcp.CallToolResult {
	if res.err != nil {
		return errorResult("entity_add", res.err)
	}
	out := res.outcome
	status := statusExisting
	switch {
	case out.Cancelled:
		status = statusCancelled
	case out.Created:
		status = statusCreated
		s.persist(ctx, "entity_add", fmt.Sprintf("add %s %q as %s", in.Kind, in.Value, out.EntityID))
	}
	return jsonResult(addResponse{Status: status, Outcome: &out})
}

func registerEntitySimilarTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_similar",
		mcp.WithDescription("Find existing entities of the same kind whose value is similar to a candidate value. Read-only."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Entity kind to compare within"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Candidate value"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError("kind is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError("value is required"), nil
		}

		k := parseKind(kind)
		exact, _ := sess.eng.Lookup(k, value)
		matches := sess.eng.FindSimilar(k, value)
		if matches == nil {
			matches = []similarity.Match{}
		}
		return jsonResult(map[string]interface{}{
			"exact_id": exact,
			"matches":  matches,
			"count":    len(matches),
		}), nil
	})
}

func registerEntityUpdateTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_update",
		mcp.WithDescription("Edit an entity's value, label or notes. Changing the value re-keys the exact-match index and fails if another entity already holds the new value."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity id (e.g. node_3)"),
		),
		mcp.WithString("value", mcp.Description("New value")),
		mcp.WithString("label", mcp.Description("New label")),
		mcp.WithString("notes", mcp.Description("New notes (replaces existing notes)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entity_id")
		if err != nil {
			return mcp.NewToolResultError("entity_id is required"), nil
		}

		var patch graph.EntityPatch
		args := req.GetArguments()
		if _, ok := args["value"]; ok {
			v := req.GetString("value", "")
			if strings.TrimSpace(v) == "" {
				return mcp.NewToolResultError("value cannot be empty"), nil
			}
			patch.Value = &v
		}
		if _, ok := args["label"]; ok {
			v := req.GetString("label", "")
			patch.Label = &v
		}
		if _, ok := args["notes"]; ok {
			v := req.GetString("notes", "")
			patch.Notes = &v
		}

		changed, err := sess.eng.UpdateEntity(id, patch)
		if err != nil {
			return errorResult("entity_update", err), nil
		}
		if changed {
			sess.persist(ctx, "entity_update", "update "+id)
		}
		return entityResult(sess, id, changed), nil
	})
}

func registerEntityChangeKindTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_change_kind",
		mcp.WithDescription("Change an entity's kind. The exact-match index is re-keyed in the same step."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity id"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("New kind"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entity_id")
		if err != nil {
			return mcp.NewToolResultError("entity_id is required"), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil || strings.TrimSpace(kind) == "" {
			return mcp.NewToolResultError("kind is required"), nil
		}

		changed, err := sess.eng.ChangeKind(id, parseKind(kind))
		if err != nil {
			return errorResult("entity_change_kind", err), nil
		}
		if changed {
			sess.persist(ctx, "entity_change_kind", fmt.Sprintf("change kind of %s to %s", id, parseKind(kind)))
		}
		return entityResult(sess, id, changed), nil
	})
}

func registerEntityRemoveTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_remove",
		mcp.WithDescription("Delete an entity with its relationships and cluster memberships. Undoable."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity id"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entity_id")
		if err != nil {
			return mcp.NewToolResultError("entity_id is required"), nil
		}
		removed := sess.eng.RemoveEntity(id)
		if removed {
			sess.persist(ctx, "entity_remove", "remove "+id)
		}
		return jsonResult(map[string]interface{}{
			"entity_id": id,
			"removed":   removed,
		}), nil
	})
}

func registerEntityMergeTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_merge",
		mcp.WithDescription("Merge the source entity into the target. The source is deleted; its value becomes a variation of the target and its relationships move to the target. Reversible with entity_unmerge."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Entity merged away"),
		),
		mcp.WithString("target_id",
			mcp.Required(),
			mcp.Description("Entity that survives"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		src, err := req.RequireString("source_id")
		if err != nil {
			return mcp.NewToolResultError("source_id is required"), nil
		}
		tgt, err := req.RequireString("target_id")
		if err != nil {
			return mcp.NewToolResultError("target_id is required"), nil
		}

		res, err := sess.eng.Merge(src, tgt)
		if err != nil {
			return errorResult("entity_merge", err), nil
		}
		sess.persist(ctx, "merge", fmt.Sprintf("merge %s into %s", src, tgt))

		out := map[string]interface{}{"merge": res}
		if e, ok := sess.eng.Entity(tgt); ok {
			out["target"] = summarize(e)
		}
		return jsonResult(out), nil
	})
}

func registerEntityUnmergeTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("entity_unmerge",
		mcp.WithDescription("Restore entities previously merged into the target, by merge-history index. Without indices every recorded merge is undone."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("target_id",
			mcp.Required(),
			mcp.Description("Entity holding the merge history"),
		),
		mcp.WithArray("indices",
			mcp.Description("Merge-history indices to restore (0-based)"),
			mcp.WithNumberItems(),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tgt, err := req.RequireString("target_id")
		if err != nil {
			return mcp.NewToolResultError("target_id is required"), nil
		}
		e, ok := sess.eng.Entity(tgt)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown entity %s", tgt)), nil
		}

		indices := req.GetIntSlice("indices", nil)
		if len(indices) == 0 {
			for i := range e.Attributes.MergeHistory {
				indices = append(indices, i)
			}
		}

		res, err := sess.eng.Unmerge(tgt, indices)
		if err != nil {
			return errorResult("entity_unmerge", err), nil
		}
		if len(res.RestoredIDs) > 0 {
			sess.persist(ctx, "unmerge", fmt.Sprintf("unmerge %v from %s", res.RestoredIDs, tgt))
		}
		return jsonResult(res), nil
	})
}

func entityResult(sess *session, id string, changed bool) *mcp.CallToolResult {
	out := map[string]interface{}{
		"entity_id": id,
		"changed":   changed,
	}
	if e, ok := sess.eng.Entity(id); ok {
		out["entity"] = summarize(e)
	}
	return jsonResult(out)
}
