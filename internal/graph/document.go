package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is the persisted JSON shape of a graph. Field names and the
// array-of-pairs encodings are a compatibility contract; do not rename.
type Document struct {
	Entities         []EntityRecord `json:"entities"`
	Relationships    []Relationship `json:"relationships"`
	EntityIDCounter  int            `json:"entityIdCounter"`
	ValueIndex       [][2]string    `json:"valueIndex"`
	Clusters         []ClusterEntry `json:"clusters"`
	ClusterIDCounter int            `json:"clusterIdCounter"`
}

// EntityRecord is one persisted entity.
type EntityRecord struct {
	ID         string     `json:"id"`
	Kind       EntityType `json:"kind"`
	Value      string     `json:"value"`
	Label      string     `json:"label"`
	Attributes Attributes `json:"attributes"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	ClusterID  string     `json:"clusterId,omitempty"`
}

// ClusterRecord is the persisted body of a cluster.
type ClusterRecord struct {
	Label           string   `json:"label"`
	MemberIDs       []string `json:"memberIds"`
	Bounds          Bounds   `json:"bounds"`
	ContentsVisible bool     `json:"contentsVisible"`
}

// ClusterEntry encodes as the pair [id, record].
type ClusterEntry struct {
	ID     string
	Record ClusterRecord
}

func (c ClusterEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.ID, c.Record})
}

func (c *ClusterEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("cluster entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.ID); err != nil {
		return fmt.Errorf("cluster id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &c.Record); err != nil {
		return fmt.Errorf("cluster %s: %w", c.ID, err)
	}
	return nil
}

// LoadReport counts the repairs made while loading a document.
type LoadReport struct {
	MigratedKeys         int `json:"migrated_keys"`
	DroppedIndexEntries  int `json:"dropped_index_entries"`
	DroppedRelationships int `json:"dropped_relationships"`
	DroppedMembers       int `json:"dropped_members"`
	StrippedLabels       int `json:"stripped_labels"`
}

// Repaired reports whether anything was changed on load.
func (r LoadReport) Repaired() bool {
	return r != LoadReport{}
}

// Export produces the persisted document. Output is deterministic: every list
// is sorted by id or key.
func (g *Graph) Export() Document {
	doc := Document{
		Entities:         make([]EntityRecord, 0, len(g.entities)),
		Relationships:    g.Relationships(),
		EntityIDCounter:  g.entityCounter,
		ValueIndex:       make([][2]string, 0, len(g.valueIndex)),
		Clusters:         make([]ClusterEntry, 0, len(g.clusters)),
		ClusterIDCounter: g.clusterCounter,
	}
	for _, id := range g.sortedEntityIDs() {
		e := cloneEntity(g.entities[id])
		doc.Entities = append(doc.Entities, EntityRecord{
			ID:         e.ID,
			Kind:       e.Kind,
			Value:      e.Value,
			Label:      e.Label,
			Attributes: e.Attributes,
			X:          e.Position.X,
			Y:          e.Position.Y,
			ClusterID:  e.ClusterID,
		})
	}
	keys := make([]string, 0, len(g.valueIndex))
	for k := range g.valueIndex {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.ValueIndex = append(doc.ValueIndex, [2]string{k, g.valueIndex[k]})
	}
	for _, c := range g.Clusters() {
		doc.Clusters = append(doc.Clusters, ClusterEntry{
			ID: c.ID,
			Record: ClusterRecord{
				Label:           c.Label,
				MemberIDs:       memberIDs(c),
				Bounds:          c.Bounds,
				ContentsVisible: c.ContentsVisible,
			},
		})
	}
	return doc
}

// EncodeDocument serializes doc.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses data. Any shape error is wrapped in ErrInvalidDocument.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Load builds a new graph from doc. Stale index entries, dangling memberships
// and edges to missing entities are repaired and counted in the report; only
// structurally unusable input (missing or duplicate ids) is an error.
func Load(doc Document) (*Graph, LoadReport, error) {
	g := New()
	var rep LoadReport

	for i, rec := range doc.Entities {
		if strings.TrimSpace(rec.ID) == "" {
			return nil, rep, fmt.Errorf("%w: entity %d has no id", ErrInvalidDocument, i)
		}
		if g.entities[rec.ID] != nil {
			return nil, rep, fmt.Errorf("%w: duplicate entity id %s", ErrInvalidDocument, rec.ID)
		}
		label := StripDecoration(rec.Label)
		if label != rec.Label {
			rep.StrippedLabels++
		}
		attrs := rec.Attributes
		e := Entity{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Value:      rec.Value,
			Label:      label,
			Attributes: attrs,
			Position:   Point{X: rec.X, Y: rec.Y},
			ClusterID:  rec.ClusterID,
		}
		c := cloneEntity(&e)
		g.entities[rec.ID] = &c
	}

	for _, r := range doc.Relationships {
		if r.ID == "" || r.From == r.To || !g.HasEntity(r.From) || !g.HasEntity(r.To) || g.relationships[r.ID] != nil {
			rep.DroppedRelationships++
			continue
		}
		rel := r
		g.relationships[rel.ID] = &rel
	}

	for _, pair := range doc.ValueIndex {
		key, id := pair[0], pair[1]
		if key == "" || !g.HasEntity(id) {
			rep.DroppedIndexEntries++
			continue
		}
		migrated, ok := migrateKey(key)
		if !ok {
			e := g.entities[id]
			migrated = DedupKey(e.Kind, e.Value)
		}
		if migrated != key {
			key = migrated
			rep.MigratedKeys++
		}
		if _, taken := g.valueIndex[key]; taken {
			rep.DroppedIndexEntries++
			continue
		}
		if _, indexed := g.keyByID[id]; indexed {
			rep.DroppedIndexEntries++
			continue
		}
		g.valueIndex[key] = id
		g.keyByID[id] = key
	}

	claimed := make(map[string]string)
	hidden := 0
	for _, entry := range doc.Clusters {
		if entry.ID == "" || g.clusters[entry.ID] != nil {
			return nil, rep, fmt.Errorf("%w: missing or duplicate cluster id %q", ErrInvalidDocument, entry.ID)
		}
		c := &Cluster{
			ID:              entry.ID,
			Label:           entry.Record.Label,
			Bounds:          entry.Record.Bounds,
			ContentsVisible: entry.Record.ContentsVisible,
			Offsets:         make(map[string]Point),
		}
		for _, m := range entry.Record.MemberIDs {
			if !g.HasEntity(m) || claimed[m] != "" || c.HasMember(m) {
				rep.DroppedMembers++
				continue
			}
			claimed[m] = c.ID
			c.MemberIDs = append(c.MemberIDs, m)
		}
		sort.Strings(c.MemberIDs)
		if c.MemberIDs == nil {
			c.MemberIDs = []string{}
		}
		if !c.ContentsVisible {
			hidden++
		}
		g.clusters[c.ID] = c
		g.recomputeOffsets(c)
	}
	g.contentsVisible = len(g.clusters) == 0 || hidden < len(g.clusters)

	for id, e := range g.entities {
		if e.ClusterID != claimed[id] {
			if e.ClusterID != "" {
				rep.DroppedMembers++
			}
			e.ClusterID = claimed[id]
		}
	}

	g.entityCounter = doc.EntityIDCounter
	for id := range g.entities {
		if n, ok := idNumber(id, entityIDPrefix); ok && n > g.entityCounter {
			g.entityCounter = n
		}
	}
	g.clusterCounter = doc.ClusterIDCounter
	for id := range g.clusters {
		if n, ok := idNumber(id, clusterIDPrefix); ok && n > g.clusterCounter {
			g.clusterCounter = n
		}
	}
	return g, rep, nil
}

// migrateKey rewrites a legacy index key into kind_value form by splitting on
// the first underscore and re-normalizing both halves. A key without an
// underscore cannot be split.
func migrateKey(key string) (string, bool) {
	kind, value, ok := strings.Cut(key, "_")
	if !ok {
		return "", false
	}
	return DedupKey(EntityType(strings.ToLower(strings.TrimSpace(kind))), value), true
}

// recomputeOffsets derives member offsets from the stored bounds without
// moving the cluster.
func (g *Graph) recomputeOffsets(c *Cluster) {
	center := c.Bounds.Center()
	for _, m := range c.MemberIDs {
		if e, ok := g.entities[m]; ok {
			c.Offsets[m] = Point{X: e.Position.X - center.X, Y: e.Position.Y - center.Y}
		}
	}
}

func memberIDs(c Cluster) []string {
	if c.MemberIDs == nil {
		return []string{}
	}
	return c.MemberIDs
}
