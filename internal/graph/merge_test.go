package graph

import (
	"errors"
	"strings"
	"testing"
)

func TestMergeRecordsVariationAndRetargets(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 10, 10)
	c := requireNew(t, g, KindName, "Carol", 20, 20)
	requireLink(t, g, b, c)

	res, err := g.Merge(b, a)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if g.HasEntity(b) {
		t.Fatal("source should be deleted")
	}
	if _, ok := g.Lookup(KindEmail, "b@x.com"); ok {
		t.Fatal("source index entry should be gone")
	}
	tgt, _ := g.Entity(a)
	if len(tgt.Attributes.Variations) != 1 || len(tgt.Attributes.MergeHistory) != 1 {
		t.Fatalf("variations/history = %d/%d, want 1/1", len(tgt.Attributes.Variations), len(tgt.Attributes.MergeHistory))
	}
	v := tgt.Attributes.Variations[0]
	if v.OriginalID != b || v.Value != "b@x.com" || v.Kind != KindEmail || !v.MergedAt.Equal(fixedTime) {
		t.Fatalf("variation = %+v", v)
	}
	if tgt.Label != "a@x.com" || tgt.DisplayLabel() != "a@x.com [+1]" {
		t.Fatalf("label/display = %q/%q", tgt.Label, tgt.DisplayLabel())
	}
	if !equalStrings(res.RetargetedEdgeIDs, []string{"manual_node_1_node_3"}) {
		t.Fatalf("retargeted = %v", res.RetargetedEdgeIDs)
	}
	if _, ok := g.Relationship("manual_node_1_node_3"); !ok {
		t.Fatal("expected retargeted edge on target")
	}
	if _, ok := g.Relationship("manual_node_2_node_3"); ok {
		t.Fatal("original edge should be gone")
	}
}

func TestMergeDropsSelfLoopsAndDuplicateEdges(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 0, 0)
	requireLink(t, g, a, b)
	requireLink(t, g, b, c)
	requireLink(t, g, c, a)

	res, err := g.Merge(b, a)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.DroppedEdges != 2 || len(res.RetargetedEdgeIDs) != 0 {
		t.Fatalf("result = %+v, want 2 dropped and none retargeted", res)
	}
	if ids := relationshipIDs(g.Relationships()); !equalStrings(ids, []string{"manual_node_3_node_1"}) {
		t.Fatalf("relationships = %v", ids)
	}
}

func TestMergeRejectsSelfAndMissing(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	if _, err := g.Merge(a, a); !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("self merge err = %v", err)
	}
	if _, err := g.Merge("node_404", a); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("missing source err = %v", err)
	}
	if _, err := g.Merge(a, "node_404"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("missing target err = %v", err)
	}
	if !g.HasEntity(a) {
		t.Fatal("failed merge must not touch the graph")
	}
}

func TestMergeUnmergeRoundTrip(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := g.Upsert(EntityInput{
		Kind:           KindEmail,
		Value:          "b@x.com",
		Label:          "Bee",
		Notes:          "seen on forum",
		SourceMetadata: map[string]any{"source": "paste"},
		Position:       &Point{X: 10, Y: 20},
	}, false).EntityID
	c := requireNew(t, g, KindName, "Carol", 30, 30)
	d := requireNew(t, g, KindDomain, "x.com", 40, 40)
	requireLink(t, g, b, c)
	if _, added := g.AddRelationship(d, b, EdgeStyle{Class: ClassLink}, "mx"); !added {
		t.Fatal("expected link edge")
	}
	before := g.IncidentRelationships(b)
	orig, _ := g.Entity(b)

	if _, err := g.Merge(b, a); err != nil {
		t.Fatalf("merge: %v", err)
	}
	res, err := g.Unmerge(a, []int{0})
	if err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if !equalStrings(res.RestoredIDs, []string{b}) || res.RestoredEdges != 2 {
		t.Fatalf("unmerge result = %+v", res)
	}

	got, ok := g.Entity(b)
	if !ok {
		t.Fatal("entity not restored")
	}
	if got.Value != orig.Value || got.Kind != orig.Kind || got.Label != orig.Label || got.Position != orig.Position {
		t.Fatalf("restored = %+v, want %+v", got, orig)
	}
	if got.Attributes.Notes != "seen on forum" || got.Attributes.SourceMetadata["source"] != "paste" {
		t.Fatalf("restored attributes = %+v", got.Attributes)
	}
	after := g.IncidentRelationships(b)
	if !equalStrings(relationshipIDs(after), relationshipIDs(before)) {
		t.Fatalf("relationships after = %v, before = %v", relationshipIDs(after), relationshipIDs(before))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("relationship %d = %+v, want %+v", i, after[i], before[i])
		}
	}
	if len(g.IncidentRelationships(a)) != 0 {
		t.Fatalf("target should lose the retargeted edges, has %v", relationshipIDs(g.IncidentRelationships(a)))
	}
	tgt, _ := g.Entity(a)
	if len(tgt.Attributes.Variations) != 0 || len(tgt.Attributes.MergeHistory) != 0 {
		t.Fatal("variation and history should be removed")
	}
	if tgt.Attributes.Notes != "" {
		t.Fatalf("target notes = %q, want empty", tgt.Attributes.Notes)
	}
	if tgt.DisplayLabel() != "a@x.com" {
		t.Fatalf("display label = %q", tgt.DisplayLabel())
	}
	if id, ok := g.Lookup(KindEmail, "b@x.com"); !ok || id != b {
		t.Fatalf("restored index entry = %q/%v", id, ok)
	}
}

func TestMergeNotesCarryProvenance(t *testing.T) {
	g := newTestGraph()
	a := g.Upsert(EntityInput{Kind: KindEmail, Value: "a@x.com", Notes: "primary"}, false).EntityID
	b := g.Upsert(EntityInput{Kind: KindEmail, Value: "b@x.com", Notes: "alt account"}, false).EntityID

	if _, err := g.Merge(b, a); err != nil {
		t.Fatalf("merge: %v", err)
	}
	tgt, _ := g.Entity(a)
	if !strings.HasPrefix(tgt.Attributes.Notes, "primary") || !strings.Contains(tgt.Attributes.Notes, "[merged from b@x.com (node_2)] alt account") {
		t.Fatalf("notes = %q", tgt.Attributes.Notes)
	}
	if _, err := g.Unmerge(a, []int{0}); err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	tgt, _ = g.Entity(a)
	if tgt.Attributes.Notes != "primary" {
		t.Fatalf("notes after unmerge = %q", tgt.Attributes.Notes)
	}
}

func TestMergeFlattensSourceHistory(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 0, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 0, 0)

	if _, err := g.Merge(c, b); err != nil {
		t.Fatalf("merge c into b: %v", err)
	}
	res, err := g.Merge(b, a)
	if err != nil {
		t.Fatalf("merge b into a: %v", err)
	}
	if res.FlattenedHistory != 1 {
		t.Fatalf("flattened = %d, want 1", res.FlattenedHistory)
	}
	tgt, _ := g.Entity(a)
	if tgt.DisplayLabel() != "a@x.com [+2]" {
		t.Fatalf("display label = %q", tgt.DisplayLabel())
	}
	for i, want := range []string{b, c} {
		if tgt.Attributes.Variations[i].OriginalID != want || tgt.Attributes.MergeHistory[i].OriginalID != want {
			t.Fatalf("entry %d = %s/%s, want %s", i, tgt.Attributes.Variations[i].OriginalID, tgt.Attributes.MergeHistory[i].OriginalID, want)
		}
	}

	un, err := g.Unmerge(a, []int{0, 1, 1, 7})
	if err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if !equalStrings(un.RestoredIDs, []string{c, b}) {
		t.Fatalf("restored = %v, want [%s %s]", un.RestoredIDs, c, b)
	}
	if g.Stats().Entities != 3 {
		t.Fatalf("entities = %d, want 3", g.Stats().Entities)
	}
}

func TestUnmergeChainRestoresConnectivity(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 10, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 20, 0)
	y := requireNew(t, g, KindName, "Yuri", 30, 0)
	requireLink(t, g, a, y)
	before := relationshipIDs(g.Relationships())

	if _, err := g.Merge(a, b); err != nil {
		t.Fatalf("merge a into b: %v", err)
	}
	if _, err := g.Merge(b, c); err != nil {
		t.Fatalf("merge b into c: %v", err)
	}
	if got := relationshipIDs(g.Relationships()); !equalStrings(got, []string{"manual_node_3_node_4"}) {
		t.Fatalf("relationships after chain = %v", got)
	}
	tgt, _ := g.Entity(c)
	if n := len(tgt.Attributes.MergeHistory[0].OriginalEdges); n != 0 {
		t.Fatalf("b recorded %d inherited edges as its own", n)
	}
	if !equalStrings(tgt.Attributes.MergeHistory[1].RetargetedEdgeIDs, []string{"manual_node_3_node_4"}) {
		t.Fatalf("flattened retargeted ids = %v", tgt.Attributes.MergeHistory[1].RetargetedEdgeIDs)
	}

	if _, err := g.Unmerge(c, []int{0, 1}); err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if got := relationshipIDs(g.Relationships()); !equalStrings(got, before) {
		t.Fatalf("relationships = %v, want %v", got, before)
	}
}

func TestUnmergeChainOneEntryAtATime(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 10, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 20, 0)
	y := requireNew(t, g, KindName, "Yuri", 30, 0)
	requireLink(t, g, a, y)

	if _, err := g.Merge(a, b); err != nil {
		t.Fatalf("merge a into b: %v", err)
	}
	if _, err := g.Merge(b, c); err != nil {
		t.Fatalf("merge b into c: %v", err)
	}

	// Only a: the edge c gained from a goes back to a.
	if _, err := g.Unmerge(c, []int{1}); err != nil {
		t.Fatalf("unmerge a: %v", err)
	}
	if got := relationshipIDs(g.Relationships()); !equalStrings(got, []string{"manual_node_1_node_4"}) {
		t.Fatalf("relationships after unmerging a = %v", got)
	}
	if _, err := g.Unmerge(c, []int{0}); err != nil {
		t.Fatalf("unmerge b: %v", err)
	}
	if got := relationshipIDs(g.Relationships()); !equalStrings(got, []string{"manual_node_1_node_4"}) {
		t.Fatalf("relationships after unmerging b = %v", got)
	}
	if len(g.IncidentRelationships(c)) != 0 || len(g.IncidentRelationships(b)) != 0 {
		t.Fatal("b and c should have no edges")
	}
}

func TestUnmergeRestoresEdgeBetweenRestoredEntities(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 10, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 20, 0)
	d := requireNew(t, g, KindEmail, "d@x.com", 30, 0)
	requireLink(t, g, a, b)
	if _, err := g.Merge(b, d); err != nil {
		t.Fatalf("merge b into d: %v", err)
	}
	if _, err := g.Merge(a, c); err != nil {
		t.Fatalf("merge a into c: %v", err)
	}
	if _, err := g.Merge(d, c); err != nil {
		t.Fatalf("merge d into c: %v", err)
	}
	if len(g.Relationships()) != 0 {
		t.Fatalf("relationships = %v, want none", relationshipIDs(g.Relationships()))
	}

	// b sits after a in the history, so b comes back first while a is
	// still missing.
	tgt, _ := g.Entity(c)
	var idx []int
	for i, h := range tgt.Attributes.MergeHistory {
		if h.OriginalID == a || h.OriginalID == b {
			idx = append(idx, i)
		}
	}
	res, err := g.Unmerge(c, idx)
	if err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if len(res.RestoredIDs) != 2 {
		t.Fatalf("restored = %v", res.RestoredIDs)
	}
	if got := relationshipIDs(g.Relationships()); !equalStrings(got, []string{"manual_node_1_node_2"}) {
		t.Fatalf("relationships = %v, want [manual_node_1_node_2]", got)
	}
}

func TestUnmergeIgnoresInvalidIndices(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	before := requireExport(t, g)

	res, err := g.Unmerge(a, []int{-1, 0, 3})
	if err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if len(res.RestoredIDs) != 0 {
		t.Fatalf("restored = %v, want none", res.RestoredIDs)
	}
	if got := requireExport(t, g); got != before {
		t.Fatal("no-op unmerge changed the graph")
	}
	if _, err := g.Unmerge("node_404", []int{0}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("missing target err = %v", err)
	}
}

func TestUnmergeRejoinsCluster(t *testing.T) {
	g := newTestGraph()
	a := requireNew(t, g, KindEmail, "a@x.com", 0, 0)
	b := requireNew(t, g, KindEmail, "b@x.com", 100, 0)
	c := requireNew(t, g, KindEmail, "c@x.com", 200, 0)
	d := requireNew(t, g, KindEmail, "d@x.com", 300, 0)
	cid, err := g.CreateCluster([]string{b, c, d}, "ring")
	if err != nil {
		t.Fatalf("create cluster: %v", err)
	}

	if _, err := g.Merge(b, a); err != nil {
		t.Fatalf("merge: %v", err)
	}
	cl, _ := g.Cluster(cid)
	if !equalStrings(cl.MemberIDs, []string{c, d}) {
		t.Fatalf("members after merge = %v", cl.MemberIDs)
	}

	if _, err := g.Unmerge(a, []int{0}); err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	cl, _ = g.Cluster(cid)
	if !equalStrings(cl.MemberIDs, []string{b, c, d}) {
		t.Fatalf("members after unmerge = %v", cl.MemberIDs)
	}
	restored, _ := g.Entity(b)
	if restored.ClusterID != cid {
		t.Fatalf("cluster id = %q, want %s", restored.ClusterID, cid)
	}
}
