// Package graph is the canonical entity/relationship store of casegraph.
//
// A Graph owns the entity table, the relationship table, the value index used
// for exact-duplicate detection, and the cluster table. Every write goes
// through a method here so index and membership invariants are maintained in
// the same step. A Graph is not safe for concurrent use; callers serialize
// access (see internal/engine).
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hurttlocker/casegraph/internal/similarity"
)

const (
	entityIDPrefix  = "node_"
	clusterIDPrefix = "cluster_"
	unknownLabel    = "Unknown"
)

// Graph holds the investigation state.
type Graph struct {
	entities      map[string]*Entity
	relationships map[string]*Relationship

	// valueIndex maps dedup key -> entity id; keyByID is its inverse so
	// removals never scan.
	valueIndex map[string]string
	keyByID    map[string]string

	clusters        map[string]*Cluster
	contentsVisible bool

	selection map[string]struct{}

	entityCounter  int
	clusterCounter int

	now func() time.Time
}

// UpsertResult reports the outcome of Upsert.
type UpsertResult struct {
	EntityID    string
	WasExisting bool
}

// EntityPatch carries optional edits for UpdateEntity. Nil fields are left alone.
type EntityPatch struct {
	Value          *string
	Label          *string
	Notes          *string
	SourceMetadata map[string]any
}

// Stats summarizes the graph.
type Stats struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Clusters      int `json:"clusters"`
	IndexedKeys   int `json:"indexed_keys"`
	Variations    int `json:"variations"`
	Anchored      int `json:"anchored"`
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		entities:        make(map[string]*Entity),
		relationships:   make(map[string]*Relationship),
		valueIndex:      make(map[string]string),
		keyByID:         make(map[string]string),
		clusters:        make(map[string]*Cluster),
		contentsVisible: true,
		selection:       make(map[string]struct{}),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for merge timestamps.
func (g *Graph) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Lookup resolves (kind, value) through the value index. A mapping whose
// entity no longer exists is dropped and reported as a miss.
func (g *Graph) Lookup(kind EntityType, value string) (string, bool) {
	key := DedupKey(kind, value)
	id, ok := g.valueIndex[key]
	if !ok {
		return "", false
	}
	if _, exists := g.entities[id]; !exists {
		delete(g.valueIndex, key)
		if g.keyByID[id] == key {
			delete(g.keyByID, id)
		}
		return "", false
	}
	return id, true
}

// Upsert returns the existing entity for (kind, value) or creates a new one.
// With forceDuplicate the index is neither consulted nor written.
func (g *Graph) Upsert(in EntityInput, forceDuplicate bool) UpsertResult {
	if !forceDuplicate {
		if id, ok := g.Lookup(in.Kind, in.Value); ok {
			return UpsertResult{EntityID: id, WasExisting: true}
		}
	}
	return UpsertResult{EntityID: g.create(in, forceDuplicate)}
}

// FindSimilar scores value against every entity of the same kind.
func (g *Graph) FindSimilar(kind EntityType, value string, th similarity.Thresholds) []similarity.Match {
	pool := make([]similarity.Candidate, 0)
	for _, id := range g.sortedEntityIDs() {
		e := g.entities[id]
		if e.Kind != kind {
			continue
		}
		pool = append(pool, similarity.Candidate{EntityID: e.ID, Value: e.Value})
	}
	return similarity.FindSimilar(value, string(kind), pool, th)
}

func (g *Graph) create(in EntityInput, forceDuplicate bool) string {
	id := g.nextEntityID()
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = strings.TrimSpace(in.Value)
	}
	if label == "" {
		label = unknownLabel
	}
	e := &Entity{
		ID:    id,
		Kind:  in.Kind,
		Value: in.Value,
		Label: StripDecoration(label),
		Attributes: Attributes{
			Notes:          in.Notes,
			SourceMetadata: cloneMap(in.SourceMetadata),
			Extra:          cloneMap(in.Extra),
		},
	}
	if in.Position != nil {
		e.Position = *in.Position
	}
	g.entities[id] = e
	if !forceDuplicate {
		g.index(DedupKey(e.Kind, e.Value), id)
	}
	return id
}

func (g *Graph) nextEntityID() string {
	for {
		g.entityCounter++
		id := entityIDPrefix + strconv.Itoa(g.entityCounter)
		if _, taken := g.entities[id]; !taken {
			return id
		}
	}
}

func (g *Graph) index(key, id string) {
	if old, ok := g.keyByID[id]; ok && g.valueIndex[old] == id {
		delete(g.valueIndex, old)
	}
	g.valueIndex[key] = id
	g.keyByID[id] = key
}

func (g *Graph) unindex(id string) {
	key, ok := g.keyByID[id]
	if !ok {
		return
	}
	if g.valueIndex[key] == id {
		delete(g.valueIndex, key)
	}
	delete(g.keyByID, id)
}

// indexOwner returns the live entity that owns key, if any.
func (g *Graph) indexOwner(key string) (string, bool) {
	id, ok := g.valueIndex[key]
	if !ok {
		return "", false
	}
	if _, exists := g.entities[id]; !exists {
		return "", false
	}
	return id, true
}

// Entity returns a copy of the entity with id.
func (g *Graph) Entity(id string) (Entity, bool) {
	e, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(e), true
}

// HasEntity reports whether id exists.
func (g *Graph) HasEntity(id string) bool {
	_, ok := g.entities[id]
	return ok
}

// Entities returns copies of all entities in creation order.
func (g *Graph) Entities() []Entity {
	out := make([]Entity, 0, len(g.entities))
	for _, id := range g.sortedEntityIDs() {
		out = append(out, cloneEntity(g.entities[id]))
	}
	return out
}

// RemoveEntity deletes id together with its relationships, index entry,
// cluster membership and selection.
func (g *Graph) RemoveEntity(id string) bool {
	e, ok := g.entities[id]
	if !ok {
		return false
	}
	for _, r := range g.IncidentRelationships(id) {
		delete(g.relationships, r.ID)
	}
	g.unindex(id)
	if e.ClusterID != "" {
		g.dropMember(e.ClusterID, id)
	}
	delete(g.selection, id)
	delete(g.entities, id)
	return true
}

// UpdateEntity applies patch to id. Changing the value re-keys the index and
// fails with ErrValueConflict when another entity already owns the new key.
func (g *Graph) UpdateEntity(id string, patch EntityPatch) (bool, error) {
	e, ok := g.entities[id]
	if !ok {
		return false, fmt.Errorf("update %s: %w", id, ErrUnknownEntity)
	}
	changed := false
	if patch.Value != nil && *patch.Value != e.Value {
		if err := g.rekey(e, e.Kind, *patch.Value); err != nil {
			return false, err
		}
		e.Value = *patch.Value
		changed = true
	}
	if patch.Label != nil {
		label := StripDecoration(strings.TrimSpace(*patch.Label))
		if label != "" && label != e.Label {
			e.Label = label
			changed = true
		}
	}
	if patch.Notes != nil && *patch.Notes != e.Attributes.Notes {
		e.Attributes.Notes = *patch.Notes
		changed = true
	}
	if patch.SourceMetadata != nil {
		e.Attributes.SourceMetadata = cloneMap(patch.SourceMetadata)
		changed = true
	}
	return changed, nil
}

// ChangeKind re-types id and re-keys its index entry.
func (g *Graph) ChangeKind(id string, kind EntityType) (bool, error) {
	e, ok := g.entities[id]
	if !ok {
		return false, fmt.Errorf("change kind of %s: %w", id, ErrUnknownEntity)
	}
	if e.Kind == kind {
		return false, nil
	}
	if err := g.rekey(e, kind, e.Value); err != nil {
		return false, err
	}
	e.Kind = kind
	return true, nil
}

// rekey moves e's index entry to (kind, value). Unindexed (forced duplicate)
// entities stay unindexed.
func (g *Graph) rekey(e *Entity, kind EntityType, value string) error {
	if _, indexed := g.keyByID[e.ID]; !indexed {
		return nil
	}
	key := DedupKey(kind, value)
	if owner, ok := g.indexOwner(key); ok && owner != e.ID {
		return fmt.Errorf("%s is owned by %s: %w", key, owner, ErrValueConflict)
	}
	g.index(key, e.ID)
	return nil
}

// MoveEntity sets the position of id. Cluster bounds follow.
func (g *Graph) MoveEntity(id string, p Point) bool {
	e, ok := g.entities[id]
	if !ok || e.Position == p {
		return false
	}
	e.Position = p
	if c, ok := g.clusters[e.ClusterID]; ok {
		g.recomputeBounds(c)
	}
	return true
}

// SetAnchored flags id as important. No engine logic depends on it.
func (g *Graph) SetAnchored(id string, anchored bool) bool {
	e, ok := g.entities[id]
	if !ok || e.Attributes.Anchored == anchored {
		return false
	}
	e.Attributes.Anchored = anchored
	return true
}

// Select replaces the current selection with the existing ids in ids.
func (g *Graph) Select(ids []string) {
	g.selection = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := g.entities[id]; ok {
			g.selection[id] = struct{}{}
		}
	}
}

// Selection returns the selected ids, sorted.
func (g *Graph) Selection() []string {
	out := make([]string, 0, len(g.selection))
	for id := range g.selection {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// Stats returns table sizes.
func (g *Graph) Stats() Stats {
	st := Stats{
		Entities:      len(g.entities),
		Relationships: len(g.relationships),
		Clusters:      len(g.clusters),
		IndexedKeys:   len(g.valueIndex),
	}
	for _, e := range g.entities {
		st.Variations += len(e.Attributes.Variations)
		if e.Attributes.Anchored {
			st.Anchored++
		}
	}
	return st
}

func (g *Graph) sortedEntityIDs() []string {
	ids := make([]string, 0, len(g.entities))
	for id := range g.entities {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// sortIDs orders ids like node_2 < node_10, falling back to string order.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

func lessID(a, b string) bool {
	ap, an, aok := splitID(a)
	bp, bn, bok := splitID(b)
	if aok && bok && ap == bp && an != bn {
		return an < bn
	}
	return a < b
}

func splitID(id string) (string, int, bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i+1], n, true
}

// idNumber returns the numeric suffix of id when it carries prefix.
func idNumber(id, prefix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}
