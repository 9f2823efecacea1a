package graph

import (
	"fmt"
	"sort"
	"strings"
)

// MergeResult describes an applied merge.
type MergeResult struct {
	SourceID          string   `json:"source_id"`
	TargetID          string   `json:"target_id"`
	HistoryIndex      int      `json:"history_index"`
	RetargetedEdgeIDs []string `json:"retargeted_edge_ids"`
	DroppedEdges      int      `json:"dropped_edges"`
	FlattenedHistory  int      `json:"flattened_history"`
}

// UnmergeResult describes an applied unmerge.
type UnmergeResult struct {
	TargetID      string   `json:"target_id"`
	RestoredIDs   []string `json:"restored_ids"`
	RestoredEdges int      `json:"restored_edges"`
	SkippedEdges  int      `json:"skipped_edges"`
}

// Merge folds source into target. target survives; source is deleted after its
// full state and connectivity are recorded on target.
func (g *Graph) Merge(sourceID, targetID string) (MergeResult, error) {
	if sourceID == targetID {
		return MergeResult{}, fmt.Errorf("merge %s: %w", sourceID, ErrSelfMerge)
	}
	src, ok := g.entities[sourceID]
	if !ok {
		return MergeResult{}, fmt.Errorf("merge source %s: %w", sourceID, ErrUnknownEntity)
	}
	tgt, ok := g.entities[targetID]
	if !ok {
		return MergeResult{}, fmt.Errorf("merge target %s: %w", targetID, ErrUnknownEntity)
	}

	// 1. Capture the source by value before anything is touched. Edges the
	// source only holds because it absorbed earlier entities belong to those
	// entities' history entries, not to the source.
	edges := g.IncidentRelationships(sourceID)
	inherited := make(map[string]bool)
	for _, h := range src.Attributes.MergeHistory {
		for _, id := range h.RetargetedEdgeIDs {
			inherited[id] = true
		}
	}
	own := make([]Relationship, 0, len(edges))
	for _, r := range edges {
		if !inherited[r.ID] {
			own = append(own, r)
		}
	}
	entry := MergeHistoryEntry{
		Variation: Variation{
			OriginalID:     src.ID,
			Value:          src.Value,
			Kind:           src.Kind,
			SourceMetadata: cloneMap(src.Attributes.SourceMetadata),
			Notes:          src.Attributes.Notes,
			MergedAt:       g.now(),
		},
		Label:             src.Label,
		OriginalPosition:  src.Position,
		OriginalEdges:     own,
		OriginalClusterID: src.ClusterID,
	}

	// 2. Variation and history, flattening the source's own merge chain.
	pos := len(tgt.Attributes.Variations)
	tgt.Attributes.Variations = append(tgt.Attributes.Variations, entry.Variation)
	tgt.Attributes.MergeHistory = append(tgt.Attributes.MergeHistory, entry)
	tgt.Attributes.Variations = append(tgt.Attributes.Variations, cloneVariations(src.Attributes.Variations)...)
	tgt.Attributes.MergeHistory = append(tgt.Attributes.MergeHistory, cloneHistory(src.Attributes.MergeHistory)...)

	// 3. Notes with provenance.
	if strings.TrimSpace(src.Attributes.Notes) != "" {
		block := fmt.Sprintf("[merged from %s (%s)] %s", src.Label, src.ID, src.Attributes.Notes)
		tgt.Attributes.Notes = appendNotes(tgt.Attributes.Notes, block)
		tgt.Attributes.MergeHistory[pos].NotesBlock = block
	}

	// 4. The stored label stays canonical; the count is derived by DisplayLabel.
	tgt.Label = StripDecoration(tgt.Label)

	// 5. Re-target the source's relationships onto the target.
	result := MergeResult{
		SourceID:         sourceID,
		TargetID:         targetID,
		HistoryIndex:     pos,
		FlattenedHistory: len(src.Attributes.MergeHistory),
	}
	var ownMoved []string
	moves := make(map[string]string)
	for _, r := range edges {
		delete(g.relationships, r.ID)
		from, to := r.From, r.To
		if from == sourceID {
			from = targetID
		}
		if to == sourceID {
			to = targetID
		}
		if from == to {
			result.DroppedEdges++
			continue
		}
		if _, dup := g.RelationshipBetween(from, to); dup {
			result.DroppedEdges++
			continue
		}
		moved := Relationship{ID: EdgeID(r.Style.Class, from, to), From: from, To: to, Style: r.Style, Note: r.Note}
		g.relationships[moved.ID] = &moved
		result.RetargetedEdgeIDs = append(result.RetargetedEdgeIDs, moved.ID)
		if inherited[r.ID] {
			moves[r.ID] = moved.ID
		} else {
			ownMoved = append(ownMoved, moved.ID)
		}
	}
	tgt.Attributes.MergeHistory[pos].RetargetedEdgeIDs = ownMoved

	// Flattened entries now own edges on the target instead of the source.
	for i := pos + 1; i < len(tgt.Attributes.MergeHistory); i++ {
		h := &tgt.Attributes.MergeHistory[i]
		var ids []string
		for _, id := range h.RetargetedEdgeIDs {
			if moved, ok := moves[id]; ok {
				ids = append(ids, moved)
			}
		}
		h.RetargetedEdgeIDs = ids
	}

	// 6. Delete the source and repair index and cluster membership.
	g.unindex(sourceID)
	if src.ClusterID != "" {
		g.dropMember(src.ClusterID, sourceID)
	}
	delete(g.selection, sourceID)
	delete(g.entities, sourceID)

	return result, nil
}

// Unmerge restores the merge history entries at indices from target.
// Indices are applied highest first; out-of-range indices are ignored.
func (g *Graph) Unmerge(targetID string, indices []int) (UnmergeResult, error) {
	tgt, ok := g.entities[targetID]
	if !ok {
		return UnmergeResult{}, fmt.Errorf("unmerge target %s: %w", targetID, ErrUnknownEntity)
	}
	result := UnmergeResult{TargetID: targetID}

	seen := make(map[int]bool, len(indices))
	valid := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(tgt.Attributes.MergeHistory) || seen[i] {
			continue
		}
		seen[i] = true
		valid = append(valid, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(valid)))

	// Edges between two entities restored by this call wait until both exist.
	pendingRestore := make(map[string]bool, len(valid))
	for _, i := range valid {
		pendingRestore[tgt.Attributes.MergeHistory[i].OriginalID] = true
	}
	var deferred []Relationship

	for _, i := range valid {
		h := tgt.Attributes.MergeHistory[i]

		// 1. Recreate the entity under its original id. An id that is live
		// again cannot be restored without clobbering; leave the entry alone.
		if h.OriginalID == "" || g.HasEntity(h.OriginalID) {
			continue
		}
		e := &Entity{
			ID:    h.OriginalID,
			Kind:  h.Kind,
			Value: h.Value,
			Label: StripDecoration(h.Label),
			Attributes: Attributes{
				Notes:          h.Notes,
				SourceMetadata: cloneMap(h.SourceMetadata),
			},
			Position: h.OriginalPosition,
		}
		g.entities[e.ID] = e
		key := DedupKey(e.Kind, e.Value)
		if _, owned := g.indexOwner(key); !owned {
			g.index(key, e.ID)
		}
		if c, ok := g.clusters[h.OriginalClusterID]; ok {
			g.addMember(c, e.ID)
			g.recomputeBounds(c)
		}

		// 2. Undo the re-targeting, then restore the original edges.
		for _, rid := range h.RetargetedEdgeIDs {
			if r, ok := g.relationships[rid]; ok && (r.From == targetID || r.To == targetID) {
				delete(g.relationships, rid)
			}
		}
		for _, r := range h.OriginalEdges {
			other := r.From
			if other == e.ID {
				other = r.To
			}
			if other != targetID && !g.HasEntity(other) && pendingRestore[other] {
				deferred = append(deferred, r)
				continue
			}
			g.restoreEdge(r, targetID, &result)
		}
		result.RestoredIDs = append(result.RestoredIDs, e.ID)

		// 3. Drop the variation and history entry; the label count is derived.
		tgt.Attributes.Variations = removeAt(tgt.Attributes.Variations, i)
		tgt.Attributes.MergeHistory = removeAt(tgt.Attributes.MergeHistory, i)
		if h.NotesBlock != "" {
			tgt.Attributes.Notes = removeNotes(tgt.Attributes.Notes, h.NotesBlock)
		}
	}
	for _, r := range deferred {
		g.restoreEdge(r, targetID, &result)
	}
	return result, nil
}

// restoreEdge re-inserts a recorded relationship unless it would reconnect to
// the unmerge target, dangle, or duplicate an existing endpoint pair.
func (g *Graph) restoreEdge(r Relationship, targetID string, result *UnmergeResult) {
	if r.From == r.To || r.From == targetID || r.To == targetID ||
		!g.HasEntity(r.From) || !g.HasEntity(r.To) {
		result.SkippedEdges++
		return
	}
	if _, exists := g.relationships[r.ID]; exists {
		result.SkippedEdges++
		return
	}
	if _, dup := g.RelationshipBetween(r.From, r.To); dup {
		result.SkippedEdges++
		return
	}
	restored := r
	g.relationships[restored.ID] = &restored
	result.RestoredEdges++
}

func appendNotes(existing, block string) string {
	if strings.TrimSpace(existing) == "" {
		return block
	}
	return existing + "\n\n" + block
}

func removeNotes(existing, block string) string {
	if out := strings.Replace(existing, "\n\n"+block, "", 1); out != existing {
		return out
	}
	if out := strings.Replace(existing, block, "", 1); out != existing {
		return strings.TrimLeft(out, "\n")
	}
	return existing
}

func removeAt[T any](s []T, i int) []T {
	if i < 0 || i >= len(s) {
		return s
	}
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
