package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/casegraph/internal/graph"
)

type clusterSummary struct {
	ID              string       `json:"id"`
	Label           string       `json:"label"`
	MemberIDs       []string     `json:"member_ids"`
	Bounds          graph.Bounds `json:"bounds"`
	ContentsVisible bool         `json:"contents_visible"`
}

func summarizeCluster(c graph.Cluster) clusterSummary {
	return clusterSummary{
		ID:              c.ID,
		Label:           c.Label,
		MemberIDs:       c.MemberIDs,
		Bounds:          c.Bounds,
		ContentsVisible: c.ContentsVisible,
	}
}

func styleForClass(class string) graph.EdgeStyle {
	switch class {
	case graph.ClassHypothetical:
		return graph.HypotheticalStyle()
	case "":
		return graph.EdgeStyle{Class: graph.ClassManual}
	default:
		return graph.EdgeStyle{Class: class}
	}
}

func registerRelationshipAddTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("relationship_add",
		mcp.WithDescription("Link two entities. Duplicates of the same class between the same pair and self-links are ignored."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Source entity id"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Target entity id"),
		),
		mcp.WithString("class",
			mcp.Description("Relationship class (default: manual)"),
			mcp.Enum(graph.ClassManual, graph.ClassHypothetical, graph.ClassSameBreach, graph.ClassSearch, graph.ClassLink),
		),
		mcp.WithString("note",
			mcp.Description("Optional note shown on the edge"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("from")
		if err != nil {
			return mcp.NewToolResultError("from is required"), nil
		}
		to, err := req.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError("to is required"), nil
		}
		class := strings.ToLower(strings.TrimSpace(req.GetString("class", "")))

		id, added, err := sess.eng.AddRelationship(from, to, styleForClass(class), req.GetString("note", ""))
		if err != nil {
			return errorResult("relationship_add", err), nil
		}
		if added {
			sess.persist(ctx, "relationship_add", fmt.Sprintf("link %s -> %s", from, to))
		}
		return jsonResult(map[string]interface{}{
			"relationship_id": id,
			"added":           added,
		}), nil
	})
}

func registerRelationshipRemoveTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("relationship_remove",
		mcp.WithDescription("Delete a relationship by id."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("relationship_id",
			mcp.Required(),
			mcp.Description("Relationship id (e.g. manual_node_1_node_2)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("relationship_id")
		if err != nil {
			return mcp.NewToolResultError("relationship_id is required"), nil
		}
		removed := sess.eng.RemoveRelationship(id)
		if removed {
			sess.persist(ctx, "relationship_remove", "unlink "+id)
		}
		return jsonResult(map[string]interface{}{
			"relationship_id": id,
			"removed":         removed,
		}), nil
	})
}

func registerClusterCreateTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("cluster_create",
		mcp.WithDescription("Group at least two existing entities into a cluster. Entities already in another cluster move to the new one."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("member_ids",
			mcp.Required(),
			mcp.Description("Entity ids to group"),
			mcp.WithStringItems(),
		),
		mcp.WithString("label",
			mcp.Description("Cluster label"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := req.RequireStringSlice("member_ids")
		if err != nil {
			return mcp.NewToolResultError("member_ids is required"), nil
		}
		label := req.GetString("label", "")

		id, err := sess.eng.CreateCluster(ids, label)
		if err != nil {
			return errorResult("cluster_create", err), nil
		}
		sess.persist(ctx, "cluster_create", fmt.Sprintf("cluster %v as %s", ids, id))
		return clusterResult(sess, id), nil
	})
}

func registerClusterRemoveTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("cluster_remove",
		mcp.WithDescription("Dissolve a cluster. Its members stay in the graph."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("cluster_id",
			mcp.Required(),
			mcp.Description("Cluster id"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("cluster_id")
		if err != nil {
			return mcp.NewToolResultError("cluster_id is required"), nil
		}
		removed := sess.eng.RemoveCluster(id)
		if removed {
			sess.persist(ctx, "cluster_remove", "dissolve "+id)
		}
		return jsonResult(map[string]interface{}{
			"cluster_id": id,
			"removed":    removed,
		}), nil
	})
}

func registerClusterMembersTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("cluster_members",
		mcp.WithDescription("Add entities to or remove entities from a cluster."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("cluster_id",
			mcp.Required(),
			mcp.Description("Cluster id"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("add or remove"),
			mcp.Enum("add", "remove"),
		),
		mcp.WithArray("member_ids",
			mcp.Required(),
			mcp.Description("Entity ids"),
			mcp.WithStringItems(),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("cluster_id")
		if err != nil {
			return mcp.NewToolResultError("cluster_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcp.NewToolResultError("action is required"), nil
		}
		ids, err := req.RequireStringSlice("member_ids")
		if err != nil {
			return mcp.NewToolResultError("member_ids is required"), nil
		}

		var n int
		var op string
		switch strings.ToLower(strings.TrimSpace(action)) {
		case "add":
			op = "cluster_add_members"
			n, err = sess.eng.AddClusterMembers(id, ids)
		case "remove":
			op = "cluster_remove_members"
			n, err = sess.eng.RemoveClusterMembers(id, ids)
		default:
			return mcp.NewToolResultError(fmt.Sprintf("invalid action %q (valid: add, remove)", action)), nil
		}
		if err != nil {
			return errorResult("cluster_members", err), nil
		}
		if n > 0 {
			sess.persist(ctx, op, fmt.Sprintf("%s %v on %s", action, ids, id))
		}

		out := map[string]interface{}{
			"cluster_id": id,
			"changed":    n,
		}
		if c, ok := sess.eng.Cluster(id); ok {
			out["cluster"] = summarizeCluster(c)
		}
		return jsonResult(out), nil
	})
}

func registerClusterVisibilityTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("cluster_visibility",
		mcp.WithDescription("Show or hide the contents of every cluster. Hidden clusters draw as one node with aggregated edges."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("visible",
			mcp.Required(),
			mcp.Description("true to show members, false to collapse"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		visible, err := req.RequireBool("visible")
		if err != nil {
			return mcp.NewToolResultError("visible is required"), nil
		}
		changed := sess.eng.SetClusterContentsVisible(visible)
		if changed {
			sess.persist(ctx, "cluster_visibility", fmt.Sprintf("cluster contents visible=%t", visible))
		}
		return jsonResult(map[string]interface{}{
			"visible": visible,
			"changed": changed,
		}), nil
	})
}

func registerUndoTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("undo",
		mcp.WithDescription("Revert the most recent change. Up to 20 changes are kept."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, ok := sess.eng.Undo()
		if ok {
			sess.persist(ctx, "undo", "undo "+desc)
		}
		return jsonResult(map[string]interface{}{
			"undone":      ok,
			"description": desc,
			"remaining":   sess.eng.UndoDescriptions(),
		}), nil
	})
}

func registerGraphViewTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("graph_view",
		mcp.WithDescription("Return the visible graph: nodes and edges after collapsed clusters are folded into aggregate nodes and edges. Read-only."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("include_clusters",
			mcp.Description("Also list clusters with their members (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view := sess.eng.View()
		out := map[string]interface{}{
			"nodes": view.Nodes,
			"edges": view.Edges,
			"stats": sess.eng.Stats(),
		}
		if req.GetBool("include_clusters", false) {
			clusters := sess.eng.Clusters()
			summaries := make([]clusterSummary, 0, len(clusters))
			for _, c := range clusters {
				summaries = append(summaries, summarizeCluster(c))
			}
			out["clusters"] = summaries
		}
		return jsonResult(out), nil
	})
}

func registerGraphExportTool(s *server.MCPServer, sess *session) {
	tool := mcp.NewTool("graph_export",
		mcp.WithDescription("Export the full persisted document (entities, relationships, clusters, value index) as JSON. Read-only."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := sess.eng.ExportJSON()
		if err != nil {
			return errorResult("graph_export", err), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func clusterResult(sess *session, id string) *mcp.CallToolResult {
	c, ok := sess.eng.Cluster(id)
	if !ok {
		return jsonResult(map[string]interface{}{"cluster_id": id})
	}
	return jsonResult(map[string]interface{}{
		"cluster_id": id,
		"cluster":    summarizeCluster(c),
	})
}
