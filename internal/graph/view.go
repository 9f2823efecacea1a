package graph

import "sort"

// ViewNode is one node as the display layer should draw it.
type ViewNode struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Kind        EntityType `json:"kind,omitempty"`
	Position    Point      `json:"position"`
	ClusterID   string     `json:"cluster_id,omitempty"`
	Anchored    bool       `json:"anchored,omitempty"`
	Aggregate   bool       `json:"aggregate,omitempty"`
	MemberCount int        `json:"member_count,omitempty"`
}

// ViewEdge is one edge as the display layer should draw it. Aggregate edges
// stand for Count hidden relationships crossing a collapsed cluster.
type ViewEdge struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Style     EdgeStyle `json:"style"`
	Note      string    `json:"note,omitempty"`
	Aggregate bool      `json:"aggregate,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// View is the visible projection of the graph.
type View struct {
	Nodes []ViewNode `json:"nodes"`
	Edges []ViewEdge `json:"edges"`
}

const aggregateEdgePrefix = "agg_"

// View computes what is visible. Collapsed clusters replace their members with
// one aggregate node; edges inside a collapsed cluster disappear and edges
// crossing its border are folded into one edge per pair of display endpoints.
func (g *Graph) View() View {
	v := View{Nodes: make([]ViewNode, 0, len(g.entities)), Edges: make([]ViewEdge, 0, len(g.relationships))}

	// shownAs maps an entity id to the display node standing in for it.
	shownAs := make(map[string]string, len(g.entities))
	collapsed := make(map[string]bool)
	for _, c := range g.Clusters() {
		if c.ContentsVisible {
			continue
		}
		live := 0
		for _, m := range c.MemberIDs {
			if g.HasEntity(m) {
				shownAs[m] = c.ID
				live++
			}
		}
		if live == 0 {
			continue
		}
		collapsed[c.ID] = true
		v.Nodes = append(v.Nodes, ViewNode{
			ID:          c.ID,
			Label:       c.Label,
			Position:    c.Bounds.Center(),
			Aggregate:   true,
			MemberCount: live,
		})
	}

	for _, id := range g.sortedEntityIDs() {
		if _, hidden := shownAs[id]; hidden {
			continue
		}
		shownAs[id] = id
		e := g.entities[id]
		v.Nodes = append(v.Nodes, ViewNode{
			ID:        e.ID,
			Label:     e.DisplayLabel(),
			Kind:      e.Kind,
			Position:  e.Position,
			ClusterID: e.ClusterID,
			Anchored:  e.Attributes.Anchored,
		})
	}

	agg := make(map[string]*ViewEdge)
	for _, r := range g.Relationships() {
		from, to := shownAs[r.From], shownAs[r.To]
		if from == "" || to == "" {
			continue
		}
		if !collapsed[from] && !collapsed[to] {
			v.Edges = append(v.Edges, ViewEdge{ID: r.ID, From: r.From, To: r.To, Style: r.Style, Note: r.Note})
			continue
		}
		if from == to {
			continue
		}
		a, b := from, to
		if lessID(b, a) {
			a, b = b, a
		}
		id := aggregateEdgePrefix + a + "_" + b
		if e, ok := agg[id]; ok {
			e.Count++
			continue
		}
		agg[id] = &ViewEdge{ID: id, From: a, To: b, Style: EdgeStyle{Class: "aggregate"}, Aggregate: true, Count: 1}
	}
	ids := make([]string, 0, len(agg))
	for id := range agg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v.Edges = append(v.Edges, *agg[id])
	}
	return v
}
