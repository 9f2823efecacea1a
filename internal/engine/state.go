package engine

import (
	"fmt"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/similarity"
)

// Export returns the persisted document of the current graph.
func (e *Engine) Export() graph.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Export()
}

// ExportJSON encodes Export.
func (e *Engine) ExportJSON() ([]byte, error) {
	return graph.EncodeDocument(e.Export())
}

// Import replaces the graph with the document in data as an undoable
// operation. Invalid input leaves the engine untouched.
func (e *Engine) Import(data []byte) (graph.LoadReport, error) {
	loaded, rep, err := decodeAndLoad(data)
	if err != nil {
		e.log.Warn("import rejected", "error", err)
		return rep, err
	}
	_, err = e.mutate("import", "import document", func() (bool, error) {
		e.g.Restore(loaded.Capture())
		return true, nil
	})
	e.logRepairs(rep)
	return rep, err
}

// Load replaces the graph with data and clears the undo history, as when a
// saved project is opened. Invalid input leaves the engine untouched.
func (e *Engine) Load(data []byte) (graph.LoadReport, error) {
	loaded, rep, err := decodeAndLoad(data)
	if err != nil {
		e.log.Warn("load rejected", "error", err)
		return rep, err
	}
	e.mu.Lock()
	e.g.Restore(loaded.Capture())
	e.history.Clear()
	e.publishLocked()
	e.mu.Unlock()
	e.logRepairs(rep)
	return rep, nil
}

func decodeAndLoad(data []byte) (*graph.Graph, graph.LoadReport, error) {
	doc, err := graph.DecodeDocument(data)
	if err != nil {
		return nil, graph.LoadReport{}, err
	}
	loaded, rep, err := graph.Load(doc)
	if err != nil {
		return nil, rep, fmt.Errorf("load document: %w", err)
	}
	return loaded, rep, nil
}

func (e *Engine) logRepairs(rep graph.LoadReport) {
	if !rep.Repaired() {
		return
	}
	e.log.Info("document repaired on load",
		"migrated_keys", rep.MigratedKeys,
		"dropped_index_entries", rep.DroppedIndexEntries,
		"dropped_relationships", rep.DroppedRelationships,
		"dropped_members", rep.DroppedMembers,
		"stripped_labels", rep.StrippedLabels)
}

// View returns the display projection.
func (e *Engine) View() graph.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.View()
}

// Stats returns table sizes and undo depth.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Stats: e.g.Stats(), UndoDepth: e.history.Len(), UndoCapacity: e.history.Capacity()}
}

// Thresholds returns the similarity bands in use.
func (e *Engine) Thresholds() similarity.Thresholds {
	return e.thresholds
}

// FindSimilar scores value against entities of kind.
func (e *Engine) FindSimilar(kind graph.EntityType, value string) []similarity.Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.FindSimilar(kind, value, e.thresholds)
}

// Lookup resolves an exact (kind, value) key.
func (e *Engine) Lookup(kind graph.EntityType, value string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Lookup(kind, value)
}

func (e *Engine) Entity(id string) (graph.Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Entity(id)
}

func (e *Engine) Entities() []graph.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Entities()
}

func (e *Engine) Relationships() []graph.Relationship {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Relationships()
}

func (e *Engine) Cluster(id string) (graph.Cluster, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Cluster(id)
}

func (e *Engine) Clusters() []graph.Cluster {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Clusters()
}
