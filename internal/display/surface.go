// Package display is the boundary between the engine and whatever draws the
// graph. A Surface is told which nodes and edges exist; Sync brings it in line
// with a graph.View. Memory is an in-process Surface used by the HTTP server
// and tests.
package display

import (
	"sort"
	"sync"

	"github.com/hurttlocker/casegraph/internal/graph"
)

// Surface is the rendering contract.
type Surface interface {
	// ViewportCenter is where entities without an explicit position are placed.
	ViewportCenter() graph.Point
	NodeIDs() []string
	EdgeIDs() []string
	PutNode(n graph.ViewNode)
	RemoveNode(id string)
	PutEdge(e graph.ViewEdge)
	RemoveEdge(id string)
}

// SyncStats counts what Sync changed.
type SyncStats struct {
	NodesPut     int `json:"nodes_put"`
	NodesRemoved int `json:"nodes_removed"`
	EdgesPut     int `json:"edges_put"`
	EdgesRemoved int `json:"edges_removed"`
}

// Sync makes s show exactly v. Edges are removed before nodes and added after
// them so a surface never holds an edge with a missing endpoint.
func Sync(s Surface, v graph.View) SyncStats {
	var st SyncStats
	wantNodes := make(map[string]bool, len(v.Nodes))
	for _, n := range v.Nodes {
		wantNodes[n.ID] = true
	}
	wantEdges := make(map[string]bool, len(v.Edges))
	for _, e := range v.Edges {
		wantEdges[e.ID] = true
	}

	for _, id := range s.EdgeIDs() {
		if !wantEdges[id] {
			s.RemoveEdge(id)
			st.EdgesRemoved++
		}
	}
	for _, id := range s.NodeIDs() {
		if !wantNodes[id] {
			s.RemoveNode(id)
			st.NodesRemoved++
		}
	}
	for _, n := range v.Nodes {
		s.PutNode(n)
		st.NodesPut++
	}
	for _, e := range v.Edges {
		s.PutEdge(e)
		st.EdgesPut++
	}
	return st
}

// Memory is a Surface that keeps the last synced view. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	center graph.Point
	nodes  map[string]graph.ViewNode
	edges  map[string]graph.ViewEdge
}

// NewMemory returns an empty surface whose viewport is centered on center.
func NewMemory(center graph.Point) *Memory {
	return &Memory{
		center: center,
		nodes:  make(map[string]graph.ViewNode),
		edges:  make(map[string]graph.ViewEdge),
	}
}

func (m *Memory) ViewportCenter() graph.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center
}

// SetViewportCenter moves the viewport.
func (m *Memory) SetViewportCenter(p graph.Point) {
	m.mu.Lock()
	m.center = p
	m.mu.Unlock()
}

func (m *Memory) NodeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.nodes)
}

func (m *Memory) EdgeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.edges)
}

func (m *Memory) PutNode(n graph.ViewNode) {
	m.mu.Lock()
	m.nodes[n.ID] = n
	m.mu.Unlock()
}

func (m *Memory) RemoveNode(id string) {
	m.mu.Lock()
	delete(m.nodes, id)
	m.mu.Unlock()
}

func (m *Memory) PutEdge(e graph.ViewEdge) {
	m.mu.Lock()
	m.edges[e.ID] = e
	m.mu.Unlock()
}

func (m *Memory) RemoveEdge(id string) {
	m.mu.Lock()
	delete(m.edges, id)
	m.mu.Unlock()
}

// Node returns the node with id.
func (m *Memory) Node(id string) (graph.ViewNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Edge returns the edge with id.
func (m *Memory) Edge(id string) (graph.ViewEdge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	return e, ok
}

// View returns the current contents as a graph.View, sorted by id.
func (m *Memory) View() graph.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := graph.View{
		Nodes: make([]graph.ViewNode, 0, len(m.nodes)),
		Edges: make([]graph.ViewEdge, 0, len(m.edges)),
	}
	for _, id := range sortedKeys(m.nodes) {
		v.Nodes = append(v.Nodes, m.nodes[id])
	}
	for _, id := range sortedKeys(m.edges) {
		v.Edges = append(v.Edges, m.edges[id])
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
