package graph

// State is a deep copy of everything a Graph owns. Restoring a State brings the
// graph back byte-for-byte, which is what undo relies on.
type State struct {
	Entities        map[string]Entity
	Relationships   map[string]Relationship
	ValueIndex      map[string]string
	Clusters        map[string]Cluster
	ContentsVisible bool
	Selection       []string
	EntityCounter   int
	ClusterCounter  int
}

// Capture snapshots the graph.
func (g *Graph) Capture() State {
	s := State{
		Entities:        make(map[string]Entity, len(g.entities)),
		Relationships:   make(map[string]Relationship, len(g.relationships)),
		ValueIndex:      make(map[string]string, len(g.valueIndex)),
		Clusters:        make(map[string]Cluster, len(g.clusters)),
		ContentsVisible: g.contentsVisible,
		Selection:       g.Selection(),
		EntityCounter:   g.entityCounter,
		ClusterCounter:  g.clusterCounter,
	}
	for id, e := range g.entities {
		s.Entities[id] = cloneEntity(e)
	}
	for id, r := range g.relationships {
		s.Relationships[id] = cloneRelationship(*r)
	}
	for k, v := range g.valueIndex {
		s.ValueIndex[k] = v
	}
	for id, c := range g.clusters {
		s.Clusters[id] = cloneCluster(c)
	}
	return s
}

// Restore replaces the graph contents with s. s is copied, so the same State
// may be restored more than once.
func (g *Graph) Restore(s State) {
	g.entities = make(map[string]*Entity, len(s.Entities))
	for id, e := range s.Entities {
		c := cloneEntity(&e)
		g.entities[id] = &c
	}
	g.relationships = make(map[string]*Relationship, len(s.Relationships))
	for id, r := range s.Relationships {
		c := cloneRelationship(r)
		g.relationships[id] = &c
	}
	g.valueIndex = make(map[string]string, len(s.ValueIndex))
	g.keyByID = make(map[string]string, len(s.ValueIndex))
	for k, id := range s.ValueIndex {
		g.valueIndex[k] = id
		g.keyByID[id] = k
	}
	g.clusters = make(map[string]*Cluster, len(s.Clusters))
	for id, c := range s.Clusters {
		cc := cloneCluster(&c)
		g.clusters[id] = &cc
	}
	g.contentsVisible = s.ContentsVisible
	g.selection = make(map[string]struct{}, len(s.Selection))
	for _, id := range s.Selection {
		g.selection[id] = struct{}{}
	}
	g.entityCounter = s.EntityCounter
	g.clusterCounter = s.ClusterCounter
}

func cloneEntity(e *Entity) Entity {
	out := *e
	out.Attributes = Attributes{
		Variations:     cloneVariations(e.Attributes.Variations),
		MergeHistory:   cloneHistory(e.Attributes.MergeHistory),
		Notes:          e.Attributes.Notes,
		SourceMetadata: cloneMap(e.Attributes.SourceMetadata),
		Anchored:       e.Attributes.Anchored,
		Extra:          cloneMap(e.Attributes.Extra),
	}
	return out
}

func cloneRelationship(r Relationship) Relationship {
	return r
}

func cloneCluster(c *Cluster) Cluster {
	out := *c
	out.MemberIDs = cloneSlice(c.MemberIDs)
	if c.Offsets != nil {
		out.Offsets = make(map[string]Point, len(c.Offsets))
		for k, v := range c.Offsets {
			out.Offsets[k] = v
		}
	}
	return out
}

func cloneVariations(in []Variation) []Variation {
	if in == nil {
		return nil
	}
	out := make([]Variation, len(in))
	for i, v := range in {
		v.SourceMetadata = cloneMap(v.SourceMetadata)
		out[i] = v
	}
	return out
}

func cloneHistory(in []MergeHistoryEntry) []MergeHistoryEntry {
	if in == nil {
		return nil
	}
	out := make([]MergeHistoryEntry, len(in))
	for i, h := range in {
		h.SourceMetadata = cloneMap(h.SourceMetadata)
		h.OriginalEdges = cloneSlice(h.OriginalEdges)
		h.RetargetedEdgeIDs = cloneSlice(h.RetargetedEdgeIDs)
		out[i] = h
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the JSON-shaped values attribute bags hold.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return cloneSlice(t)
	default:
		return v
	}
}

// cloneSlice copies s, keeping nil and empty distinct so encoded output does
// not change across a snapshot.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
