package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hurttlocker/casegraph/internal/graph"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T, maxRevisions int) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:", MaxRevisions: maxRevisions})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testDocument builds a persisted document with n email entities.
func testDocument(t *testing.T, n int) []byte {
	t.Helper()
	g := graph.New()
	for i := 0; i < n; i++ {
		g.Upsert(graph.EntityInput{Kind: graph.KindEmail, Value: fmt.Sprintf("user%d@example.com", i)}, false)
	}
	data, err := graph.EncodeDocument(g.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s := newTestStore(t, 0)
	ss := s.(*SQLiteStore)

	for _, table := range []string{"projects", "project_revisions", "events", "meta"} {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var version string
	if err := ss.db.QueryRow("SELECT value FROM meta WHERE key='schema_version'").Scan(&version); err != nil {
		t.Fatalf("schema_version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("schema_version = %q, want %q", version, schemaVersion)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casegraph.db")
	for i := 0; i < 2; i++ {
		s, err := NewStore(StoreConfig{DBPath: path})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if i == 0 {
			if _, err := s.SaveProject(context.Background(), "case", testDocument(t, 1)); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		s.Close()
	}

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.LoadProject(context.Background(), "case"); err != nil {
		t.Fatalf("project lost across reopen: %v", err)
	}
}

// --- Projects ---

func TestSaveAndLoadProject(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	doc := testDocument(t, 3)

	info, err := s.SaveProject(ctx, "acme", doc)
	if err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if info.Name != "acme" || info.Entities != 3 || info.Revisions != 1 || info.Hash != HashDocument(doc) {
		t.Fatalf("info = %+v", info)
	}

	got, err := s.LoadProject(ctx, "acme")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if string(got) != string(doc) {
		t.Fatalf("document changed in storage:\n%s\n%s", got, doc)
	}
}

func TestSaveProjectRejectsInvalidDocument(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.SaveProject(context.Background(), "acme", []byte(`{"entities": 3}`))
	if !errors.Is(err, graph.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
	if _, err := s.SaveProject(context.Background(), "  ", testDocument(t, 0)); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestSaveUnchangedDocumentAddsNoRevision(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	doc := testDocument(t, 2)

	s.SaveProject(ctx, "acme", doc)
	info, err := s.SaveProject(ctx, "acme", doc)
	if err != nil {
		t.Fatal(err)
	}
	if info.Revisions != 1 {
		t.Fatalf("revisions = %d, want 1", info.Revisions)
	}
}

func TestRevisionsAreTrimmed(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := s.SaveProject(ctx, "acme", testDocument(t, i)); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	revs, err := s.ListRevisions(ctx, "acme", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 3 {
		t.Fatalf("revisions = %d, want 3", len(revs))
	}
	if revs[0].Entities != 5 || revs[2].Entities != 3 {
		t.Fatalf("kept wrong revisions: %+v", revs)
	}

	old, err := s.LoadRevision(ctx, "acme", revs[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(old) != string(testDocument(t, 3)) {
		t.Fatal("revision document mismatch")
	}
	if _, err := s.LoadRevision(ctx, "acme", 999); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("missing revision err = %v", err)
	}
}

func TestListAndDeleteProjects(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("expected 0 projects on empty store, got %d", len(projects))
	}

	s.SaveProject(ctx, "zeta", testDocument(t, 1))
	s.SaveProject(ctx, "alpha", testDocument(t, 2))

	projects, err = s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0].Name != "alpha" || projects[1].Name != "zeta" {
		t.Fatalf("projects = %+v", projects)
	}
	if projects[0].UpdatedAt.IsZero() {
		t.Fatal("updated_at not parsed")
	}

	if err := s.DeleteProject(ctx, "alpha"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.LoadProject(ctx, "alpha"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("load deleted err = %v", err)
	}
	if err := s.DeleteProject(ctx, "alpha"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("double delete err = %v", err)
	}
	if revs, _ := s.ListRevisions(ctx, "alpha", 0); len(revs) != 0 {
		t.Fatalf("revisions survived delete: %d", len(revs))
	}
}

// --- Events ---

func TestLogAndListEvents(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	for i, op := range []string{"entity_add", "merge", "undo"} {
		project := "acme"
		if i == 1 {
			project = "other"
		}
		e := &Event{Project: project, Op: op, Description: fmt.Sprintf("step %d", i)}
		if err := s.LogEvent(ctx, e); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Fatalf("event not stamped: %+v", e)
		}
	}

	all, err := s.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Op != "undo" || all[2].Op != "entity_add" {
		t.Fatalf("events = %+v", all)
	}

	acme, err := s.ListEvents(ctx, "acme", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(acme) != 1 || acme[0].Op != "undo" {
		t.Fatalf("acme events = %+v", acme)
	}

	if err := s.LogEvent(ctx, &Event{}); err == nil {
		t.Fatal("expected error for event without op")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	s.SaveProject(ctx, "acme", testDocument(t, 1))
	s.SaveProject(ctx, "acme", testDocument(t, 2))
	s.LogEvent(ctx, &Event{Op: "save"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ProjectCount != 1 || st.RevisionCount != 2 || st.EventCount != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStatsFileSize(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(StoreConfig{DBPath: filepath.Join(t.TempDir(), "stats.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.SaveProject(ctx, "acme", testDocument(t, 3)); err != nil {
		t.Fatalf("save: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.DBSizeBytes <= 0 {
		t.Fatalf("db size = %d, want > 0", st.DBSizeBytes)
	}

	s.Close()
	if _, err := s.Stats(ctx); err == nil {
		t.Fatal("expected error from a closed store")
	}
}
