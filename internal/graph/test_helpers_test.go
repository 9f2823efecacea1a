package graph

import (
	"testing"
	"time"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGraph() *Graph {
	g := New()
	g.SetClock(func() time.Time { return fixedTime })
	return g
}

func requireNew(t *testing.T, g *Graph, kind EntityType, value string, x, y float64) string {
	t.Helper()
	res := g.Upsert(EntityInput{Kind: kind, Value: value, Position: &Point{X: x, Y: y}}, false)
	if res.WasExisting {
		t.Fatalf("expected %s %q to be new, got existing %s", kind, value, res.EntityID)
	}
	return res.EntityID
}

func requireLink(t *testing.T, g *Graph, from, to string) string {
	t.Helper()
	id, added := g.AddRelationship(from, to, EdgeStyle{}, "")
	if !added {
		t.Fatalf("expected relationship %s -> %s to be added", from, to)
	}
	return id
}

func requireExport(t *testing.T, g *Graph) string {
	t.Helper()
	data, err := EncodeDocument(g.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(data)
}

func relationshipIDs(rs []Relationship) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
