// Package engine is the single entry point for changing an investigation
// graph. It serializes access to a graph.Graph, brackets every mutation with
// an undo snapshot, keeps an attached display surface in sync and reports
// activity through the logger, prometheus metrics and an optional change hook.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hurttlocker/casegraph/internal/display"
	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/logger"
	"github.com/hurttlocker/casegraph/internal/metrics"
	"github.com/hurttlocker/casegraph/internal/similarity"
	"github.com/hurttlocker/casegraph/internal/undo"
)

// Options configures an Engine. The zero value is usable.
type Options struct {
	Logger       *logger.Logger
	Thresholds   similarity.Thresholds
	UndoCapacity int

	// AutoLinkHypothetical creates a hypothetical relationship to the best
	// match when a new entity lands in the hypothetical band.
	AutoLinkHypothetical bool

	Surface  display.Surface
	OnChange func(Event)
	Clock    func() time.Time
}

// Event describes one applied change. It is delivered after the engine lock
// is released, so handlers may call back into the engine.
type Event struct {
	Op          string    `json:"op"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Stats extends graph.Stats with undo state.
type Stats struct {
	graph.Stats
	UndoDepth    int `json:"undo_depth"`
	UndoCapacity int `json:"undo_capacity"`
}

type Engine struct {
	mu      sync.Mutex
	g       *graph.Graph
	history *undo.History[graph.State]

	log        *logger.Logger
	thresholds similarity.Thresholds
	autoLink   bool
	surface    display.Surface
	onChange   func(Event)
	now        func() time.Time
}

// New returns an engine over an empty graph.
func New(opts Options) *Engine {
	e := &Engine{
		g:          graph.New(),
		history:    undo.New[graph.State](opts.UndoCapacity),
		log:        opts.Logger,
		thresholds: opts.Thresholds.Normalized(),
		autoLink:   opts.AutoLinkHypothetical,
		surface:    opts.Surface,
		onChange:   opts.OnChange,
		now:        opts.Clock,
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	e.g.SetClock(e.now)
	return e
}

// mutate runs fn under the lock with a snapshot taken before it. fn reports
// whether it changed the graph; only then is the snapshot kept. fn must not
// mutate anything before returning an error.
func (e *Engine) mutate(op, desc string, fn func() (bool, error)) (bool, error) {
	e.mu.Lock()
	done := metrics.Time(op)
	snap := e.g.Capture()
	changed, err := fn()
	if err == nil && changed {
		e.commitLocked(desc, snap)
	}
	done()
	e.mu.Unlock()

	if err != nil {
		return false, err
	}
	if changed {
		e.emit(op, desc)
	}
	return changed, nil
}

// commitLocked records snap for undo and publishes the new state.
func (e *Engine) commitLocked(desc string, snap graph.State) {
	e.history.Push(desc, snap)
	e.publishLocked()
}

func (e *Engine) publishLocked() {
	st := e.g.Stats()
	metrics.ObserveSize(st.Entities, st.Relationships, st.Clusters)
	metrics.UndoDepth.Set(float64(e.history.Len()))
	if e.surface != nil {
		display.Sync(e.surface, e.g.View())
	}
}

func (e *Engine) emit(op, desc string) {
	if e.onChange == nil {
		return
	}
	e.onChange(Event{Op: op, Description: desc, At: e.now()})
}

// AddRelationship links from and to. Self-loops and duplicates are reported
// as added=false without error.
func (e *Engine) AddRelationship(from, to string, style graph.EdgeStyle, note string) (string, bool, error) {
	var id string
	desc := fmt.Sprintf("link %s -> %s", from, to)
	added, err := e.mutate("relationship_add", desc, func() (bool, error) {
		if from == to {
			e.log.Info("self-loop relationship ignored", "entity_id", from)
			return false, nil
		}
		for _, end := range []string{from, to} {
			if !e.g.HasEntity(end) {
				return false, fmt.Errorf("relationship endpoint %s: %w", end, graph.ErrUnknownEntity)
			}
		}
		var added bool
		id, added = e.g.AddRelationship(from, to, style, note)
		if !added {
			e.log.Debug("relationship already present", "relationship_id", id)
		}
		return added, nil
	})
	return id, added, err
}

// RemoveRelationship deletes id.
func (e *Engine) RemoveRelationship(id string) bool {
	removed, _ := e.mutate("relationship_remove", "remove relationship "+id, func() (bool, error) {
		if !e.g.RemoveRelationship(id) {
			e.log.Info("remove relationship: not found", "relationship_id", id)
			return false, nil
		}
		return true, nil
	})
	return removed
}

// SetRelationshipNote replaces the note on relationship id.
func (e *Engine) SetRelationshipNote(id, note string) bool {
	changed, _ := e.mutate("relationship_note", "annotate relationship "+id, func() (bool, error) {
		return e.g.SetRelationshipNote(id, note), nil
	})
	return changed
}

// RemoveEntity deletes id and everything attached to it.
func (e *Engine) RemoveEntity(id string) bool {
	removed, _ := e.mutate("entity_remove", "remove "+id, func() (bool, error) {
		if !e.g.RemoveEntity(id) {
			e.log.Info("remove entity: not found", "entity_id", id)
			return false, nil
		}
		return true, nil
	})
	return removed
}

// UpdateEntity applies patch to id.
func (e *Engine) UpdateEntity(id string, patch graph.EntityPatch) (bool, error) {
	return e.mutate("entity_update", "edit "+id, func() (bool, error) {
		return e.g.UpdateEntity(id, patch)
	})
}

// ChangeKind re-types id.
func (e *Engine) ChangeKind(id string, kind graph.EntityType) (bool, error) {
	return e.mutate("entity_change_kind", fmt.Sprintf("change %s to %s", id, kind), func() (bool, error) {
		return e.g.ChangeKind(id, kind)
	})
}

// MoveEntity repositions id.
func (e *Engine) MoveEntity(id string, p graph.Point) bool {
	moved, _ := e.mutate("entity_move", "move "+id, func() (bool, error) {
		return e.g.MoveEntity(id, p), nil
	})
	return moved
}

// SetAnchored flags or unflags id as important.
func (e *Engine) SetAnchored(id string, anchored bool) bool {
	desc := "anchor " + id
	if !anchored {
		desc = "unanchor " + id
	}
	changed, _ := e.mutate("entity_anchor", desc, func() (bool, error) {
		return e.g.SetAnchored(id, anchored), nil
	})
	return changed
}

// Merge folds source into target. Missing ids and self-merges are logged and
// returned as errors without touching the graph.
func (e *Engine) Merge(sourceID, targetID string) (graph.MergeResult, error) {
	var res graph.MergeResult
	_, err := e.mutate("merge", fmt.Sprintf("merge %s into %s", sourceID, targetID), func() (bool, error) {
		var err error
		res, err = e.g.Merge(sourceID, targetID)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		e.log.Warn("merge skipped", "source_id", sourceID, "target_id", targetID, "error", err)
		return res, err
	}
	metrics.Merges.Inc()
	e.log.Info("merged", "source_id", sourceID, "target_id", targetID,
		"retargeted", len(res.RetargetedEdgeIDs), "dropped_edges", res.DroppedEdges)
	return res, nil
}

// Unmerge restores the merge history entries at indices from targetID.
func (e *Engine) Unmerge(targetID string, indices []int) (graph.UnmergeResult, error) {
	var res graph.UnmergeResult
	_, err := e.mutate("unmerge", fmt.Sprintf("unmerge %v from %s", indices, targetID), func() (bool, error) {
		var err error
		res, err = e.g.Unmerge(targetID, indices)
		if err != nil {
			return false, err
		}
		return len(res.RestoredIDs) > 0, nil
	})
	if err != nil {
		e.log.Warn("unmerge skipped", "target_id", targetID, "error", err)
		return res, err
	}
	if len(res.RestoredIDs) == 0 {
		e.log.Info("unmerge: nothing to restore", "target_id", targetID, "indices", indices)
		return res, nil
	}
	metrics.Unmerges.Add(float64(len(res.RestoredIDs)))
	e.log.Info("unmerged", "target_id", targetID, "restored", res.RestoredIDs,
		"restored_edges", res.RestoredEdges, "skipped_edges", res.SkippedEdges)
	return res, nil
}

// CreateCluster groups memberIDs. Fewer than two valid members is
// graph.ErrTooFewMembers and nothing is created.
func (e *Engine) CreateCluster(memberIDs []string, label string) (string, error) {
	var id string
	_, err := e.mutate("cluster_create", fmt.Sprintf("cluster %d entities", len(memberIDs)), func() (bool, error) {
		var err error
		id, err = e.g.CreateCluster(memberIDs, label)
		return err == nil, err
	})
	if err != nil {
		e.log.Info("cluster not created", "members", len(memberIDs), "error", err)
	}
	return id, err
}

// RemoveCluster dissolves id.
func (e *Engine) RemoveCluster(id string) bool {
	removed, _ := e.mutate("cluster_remove", "remove "+id, func() (bool, error) {
		if !e.g.RemoveCluster(id) {
			e.log.Info("remove cluster: not found", "cluster_id", id)
			return false, nil
		}
		return true, nil
	})
	return removed
}

// AddClusterMembers adds ids to cluster id.
func (e *Engine) AddClusterMembers(id string, ids []string) (int, error) {
	var n int
	_, err := e.mutate("cluster_add_members", "add members to "+id, func() (bool, error) {
		var err error
		n, err = e.g.AddMembers(id, ids)
		return n > 0, err
	})
	return n, err
}

// RemoveClusterMembers removes ids from cluster id.
func (e *Engine) RemoveClusterMembers(id string, ids []string) (int, error) {
	var n int
	_, err := e.mutate("cluster_remove_members", "remove members from "+id, func() (bool, error) {
		var err error
		n, err = e.g.RemoveMembers(id, ids)
		return n > 0, err
	})
	return n, err
}

// SetClusterContentsVisible toggles member visibility for every cluster.
func (e *Engine) SetClusterContentsVisible(visible bool) bool {
	desc := "show cluster contents"
	if !visible {
		desc = "hide cluster contents"
	}
	changed, _ := e.mutate("cluster_visibility", desc, func() (bool, error) {
		return e.g.SetContentsVisible(visible), nil
	})
	return changed
}

// MoveCluster recenters cluster id.
func (e *Engine) MoveCluster(id string, center graph.Point) error {
	_, err := e.mutate("cluster_move", "move "+id, func() (bool, error) {
		return true, e.g.MoveCluster(id, center)
	})
	return err
}

// RenameCluster relabels cluster id.
func (e *Engine) RenameCluster(id, label string) error {
	_, err := e.mutate("cluster_rename", "rename "+id, func() (bool, error) {
		return true, e.g.RenameCluster(id, label)
	})
	return err
}

// Select replaces the selection. Selection is captured by snapshots but is not
// itself undoable.
func (e *Engine) Select(ids []string) {
	e.mu.Lock()
	e.g.Select(ids)
	e.mu.Unlock()
}

// Selection returns the selected ids.
func (e *Engine) Selection() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Selection()
}

// Undo restores the most recent snapshot and returns its description.
func (e *Engine) Undo() (string, bool) {
	e.mu.Lock()
	snap, ok := e.history.Undo(func(s undo.Snapshot[graph.State]) {
		e.g.Restore(s.State)
	})
	if ok {
		e.publishLocked()
	}
	e.mu.Unlock()

	if !ok {
		e.log.Info("nothing to undo")
		return "", false
	}
	metrics.UndoRestores.Inc()
	e.log.Info("undone", "description", snap.Description)
	e.emit("undo", "undo "+snap.Description)
	return snap.Description, true
}

// UndoDescriptions lists undoable operations, newest first.
func (e *Engine) UndoDescriptions() []string {
	return e.history.Descriptions()
}

// ClearHistory drops every undo snapshot.
func (e *Engine) ClearHistory() {
	e.history.Clear()
	metrics.UndoDepth.Set(0)
}

// ErrNoSurface is returned by Resync when no display surface is attached.
var ErrNoSurface = errors.New("no display surface attached")

// Resync pushes the full view to the attached surface.
func (e *Engine) Resync() (display.SyncStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return display.SyncStats{}, ErrNoSurface
	}
	return display.Sync(e.surface, e.g.View()), nil
}
