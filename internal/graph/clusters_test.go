package graph

import (
	"errors"
	"testing"
)

func TestCreateAndRemoveCluster(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 100, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 50, 100)

	id, err := g.CreateCluster([]string{c, a, b, a}, "")
	if err != nil {
		t.Fatalf("create cluster: %v", err)
	}
	if id != "cluster_1" {
		t.Fatalf("id = %s, want cluster_1", id)
	}
	cl, ok := g.Cluster(id)
	if !ok {
		t.Fatal("cluster missing")
	}
	if !equalStrings(cl.MemberIDs, []string{a, b, c}) {
		t.Fatalf("members = %v", cl.MemberIDs)
	}
	if cl.Label != "Cluster 1" {
		t.Fatalf("label = %q", cl.Label)
	}
	want := Bounds{X: -60, Y: -60, W: 220, H: 220}
	if cl.Bounds != want {
		t.Fatalf("bounds = %+v, want %+v", cl.Bounds, want)
	}
	for _, m := range []string{a, b, c} {
		e, _ := g.Entity(m)
		if e.ClusterID != id {
			t.Fatalf("%s cluster id = %q", m, e.ClusterID)
		}
	}

	if !g.RemoveCluster(id) {
		t.Fatal("expected removal")
	}
	if _, ok := g.Cluster(id); ok {
		t.Fatal("cluster should be deleted")
	}
	for _, m := range []string{a, b, c} {
		e, _ := g.Entity(m)
		if e.ClusterID != "" {
			t.Fatalf("%s still points at %q", m, e.ClusterID)
		}
	}
	if g.RemoveCluster(id) {
		t.Fatal("second removal should be a no-op")
	}
}

func TestCreateClusterNeedsTwoMembers(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)

	if _, err := g.CreateCluster([]string{a, "node_404", a}, "x"); !errors.Is(err, ErrTooFewMembers) {
		t.Fatalf("err = %v, want ErrTooFewMembers", err)
	}
	if len(g.Clusters()) != 0 {
		t.Fatal("no cluster should be created")
	}
	e, _ := g.Entity(a)
	if e.ClusterID != "" {
		t.Fatal("member should be untouched")
	}
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	if id, err := g.CreateCluster([]string{a, b}, ""); err != nil || id != "cluster_1" {
		t.Fatalf("create after failure = %s/%v, want cluster_1", id, err)
	}
}

func TestCreateClusterMovesMembers(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 0, 0)
	d := requireNew(t, g, KindEmail, "d@x.com", 0, 0)

	first, _ := g.CreateCluster([]string{a, b, c}, "first")
	second, err := g.CreateCluster([]string{c, d}, "second")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	c1, _ := g.Cluster(first)
	c2, _ := g.Cluster(second)
	if !equalStrings(c1.MemberIDs, []string{a, b}) || !equalStrings(c2.MemberIDs, []string{c, d}) {
		t.Fatalf("members = %v / %v", c1.MemberIDs, c2.MemberIDs)
	}
	e, _ := g.Entity(c)
	if e.ClusterID != second {
		t.Fatalf("moved member points at %q", e.ClusterID)
	}
}

func TestRemoveClusterToleratesDeletedMembers(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	id, _ := g.CreateCluster([]string{a, b}, "")
	delete(g.entities, a)

	if !g.RemoveCluster(id) {
		t.Fatal("expected removal")
	}
	e, _ := g.Entity(b)
	if e.ClusterID != "" {
		t.Fatalf("surviving member points at %q", e.ClusterID)
	}
}

func TestAddAndRemoveMembers(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 100, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 200, 0)
	id, _ := g.CreateCluster([]string{a, b}, "")

	n, err := g.AddMembers(id, []string{b, c, "node_404"})
	if err != nil || n != 1 {
		t.Fatalf("add members = %d/%v, want 1", n, err)
	}
	cl, _ := g.Cluster(id)
	if cl.Bounds.W != 320 {
		t.Fatalf("bounds width = %v, want 320", cl.Bounds.W)
	}

	n, err = g.RemoveMembers(id, []string{a, "node_404"})
	if err != nil || n != 1 {
		t.Fatalf("remove members = %d/%v, want 1", n, err)
	}
	cl, _ = g.Cluster(id)
	if !equalStrings(cl.MemberIDs, []string{b, c}) {
		t.Fatalf("members = %v", cl.MemberIDs)
	}
	e, _ := g.Entity(a)
	if e.ClusterID != "" {
		t.Fatalf("removed member points at %q", e.ClusterID)
	}
	if _, err := g.AddMembers("cluster_9", []string{a}); !errors.Is(err, ErrUnknownCluster) {
		t.Fatalf("err = %v, want ErrUnknownCluster", err)
	}
}

func TestMoveClusterKeepsOffsets(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 100, 0)
	id, _ := g.CreateCluster([]string{a, b}, "")

	if err := g.MoveCluster(id, Point{X: 250, Y: 100}); err != nil {
		t.Fatalf("move: %v", err)
	}
	ea, _ := g.Entity(a)
	eb, _ := g.Entity(b)
	if ea.Position != (Point{X: 200, Y: 100}) || eb.Position != (Point{X: 300, Y: 100}) {
		t.Fatalf("positions = %+v / %+v", ea.Position, eb.Position)
	}
	cl, _ := g.Cluster(id)
	if cl.Bounds.Center() != (Point{X: 250, Y: 100}) {
		t.Fatalf("center = %+v", cl.Bounds.Center())
	}
}

func TestSetContentsVisibleAppliesToAllClusters(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 0, 0)
	d := requireNew(t, g, KindEmail, "d@x.com", 0, 0)
	g.CreateCluster([]string{a, b}, "")
	g.CreateCluster([]string{c, d}, "")

	if !g.SetContentsVisible(false) {
		t.Fatal("expected change")
	}
	for _, cl := range g.Clusters() {
		if cl.ContentsVisible {
			t.Fatalf("%s still visible", cl.ID)
		}
	}
	if g.SetContentsVisible(false) {
		t.Fatal("repeat should be a no-op")
	}
}
