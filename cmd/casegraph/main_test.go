package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/store"
)

func resetGlobals() {
	globalDBPath = ""
	globalProject = ""
	globalConfigPath = ""
	globalLogMode = ""
	globalVerbose = false
}

// ==================== parseGlobalFlags ====================

func TestParseGlobalFlags_DBFlag(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	args := parseGlobalFlags([]string{"--db", "/tmp/test.db", "ingest", "records.csv"})

	if globalDBPath != "/tmp/test.db" {
		t.Errorf("globalDBPath = %q, want %q", globalDBPath, "/tmp/test.db")
	}
	if len(args) != 2 || args[0] != "ingest" || args[1] != "records.csv" {
		t.Errorf("filtered args = %v, want [ingest records.csv]", args)
	}
}

func TestParseGlobalFlags_EqualsForm(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	args := parseGlobalFlags([]string{"--project=case-7", "stats", "--log=prod"})

	if globalProject != "case-7" {
		t.Errorf("globalProject = %q, want case-7", globalProject)
	}
	if globalLogMode != "prod" {
		t.Errorf("globalLogMode = %q, want prod", globalLogMode)
	}
	if len(args) != 1 || args[0] != "stats" {
		t.Errorf("filtered args = %v, want [stats]", args)
	}
}

func TestParseGlobalFlags_VerboseAnywhere(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	args := parseGlobalFlags([]string{"ingest", "--verbose", "--policy", "merge", "a.csv"})

	if !globalVerbose {
		t.Error("expected globalVerbose")
	}
	want := []string{"ingest", "--policy", "merge", "a.csv"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("filtered args = %v, want %v", args, want)
	}
}

func TestParseGlobalFlags_TrailingFlagWithoutValue(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	args := parseGlobalFlags([]string{"stats", "--db"})
	if globalDBPath != "" {
		t.Errorf("globalDBPath = %q, want empty", globalDBPath)
	}
	if len(args) != 2 || args[1] != "--db" {
		t.Errorf("filtered args = %v, want [stats --db]", args)
	}
}

func TestFlagValue(t *testing.T) {
	args := []string{"--kind", "email", "--policy=link", "--kind"}
	if v, next, ok := flagValue(args, 0, "--kind"); !ok || v != "email" || next != 1 {
		t.Errorf("separate form = %q %d %v", v, next, ok)
	}
	if v, next, ok := flagValue(args, 2, "--policy"); !ok || v != "link" || next != 2 {
		t.Errorf("equals form = %q %d %v", v, next, ok)
	}
	if _, _, ok := flagValue(args, 3, "--kind"); ok {
		t.Error("a flag without a value must not match")
	}
}

// ==================== commands ====================

func setupCLI(t *testing.T) (dbPath string) {
	t.Helper()
	resetGlobals()
	t.Cleanup(resetGlobals)

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "casegraph.db")
	globalDBPath = dbPath
	globalProject = "case-1"
	globalConfigPath = filepath.Join(dir, "missing-config.yaml")
	for _, key := range []string{"CASEGRAPH_DB", "CASEGRAPH_PROJECT", "CASEGRAPH_LOG", "CASEGRAPH_POLICY", "CASEGRAPH_UNDO_CAPACITY", "CASEGRAPH_HTTP_PORT"} {
		t.Setenv(key, "")
	}
	return dbPath
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func loadSavedDocument(t *testing.T, dbPath, project string) graph.Document {
	t.Helper()
	st, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	data, err := st.LoadProject(context.Background(), project)
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	doc, err := graph.DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode saved document: %v", err)
	}
	return doc
}

func TestRunIngestSavesProject(t *testing.T) {
	dbPath := setupCLI(t)
	csvPath := writeFile(t, "records.csv", "kind,value,label,link_to\n"+
		"email,a@x.com,Primary,\n"+
		"phone,555-123-4567,,email:a@x.com\n")

	if err := runIngest([]string{csvPath, "--policy", "create"}); err != nil {
		t.Fatalf("runIngest: %v", err)
	}

	doc := loadSavedDocument(t, dbPath, "case-1")
	if len(doc.Entities) != 2 || len(doc.Relationships) != 1 {
		t.Fatalf("saved %d entities, %d relationships; want 2, 1", len(doc.Entities), len(doc.Relationships))
	}

	// Re-ingesting the same file adds nothing and writes no new revision.
	if err := runIngest([]string{csvPath}); err != nil {
		t.Fatalf("second runIngest: %v", err)
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	revs, err := st.ListRevisions(context.Background(), "case-1", 0)
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("revisions = %d, want 1", len(revs))
	}
	events, _ := st.ListEvents(context.Background(), "case-1", 10)
	if len(events) != 1 || events[0].Op != "ingest" {
		t.Fatalf("events = %+v, want one ingest", events)
	}
}

func TestRunIngestDryRunWritesNothing(t *testing.T) {
	dbPath := setupCLI(t)
	txtPath := writeFile(t, "leads.txt", "email: a@x.com\nusername: darkfox\n")

	if err := runIngest([]string{"-n", txtPath}); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := st.LoadProject(context.Background(), "case-1"); err == nil {
		t.Fatal("dry run must not save the project")
	}
}

func TestRunIngestRejectsBadInput(t *testing.T) {
	setupCLI(t)
	if err := runIngest(nil); err == nil {
		t.Error("expected usage error without paths")
	}
	if err := runIngest([]string{"--bogus", "a.csv"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if err := runIngest([]string{"a.csv", "--policy", "sometimes"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRunImportAndExport(t *testing.T) {
	dbPath := setupCLI(t)
	docPath := writeFile(t, "case.json", `{
  "entities": [
    {"id": "node_1", "kind": "email", "value": "a@x.com", "label": "a@x.com", "attributes": {}, "x": 0, "y": 0},
    {"id": "node_2", "kind": "phone", "value": "5551234567", "label": "5551234567", "attributes": {}, "x": 10, "y": 0}
  ],
  "relationships": [
    {"id": "manual_node_1_node_2", "from": "node_1", "to": "node_2", "style": {"class": "manual"}}
  ],
  "entityIdCounter": 2,
  "valueIndex": [["email_a@x.com", "node_1"], ["phone_5551234567", "node_2"]],
  "clusters": [],
  "clusterIdCounter": 0
}`)

	if err := runImport([]string{docPath}); err != nil {
		t.Fatalf("runImport: %v", err)
	}
	doc := loadSavedDocument(t, dbPath, "case-1")
	if len(doc.Entities) != 2 || doc.EntityIDCounter != 2 {
		t.Fatalf("unexpected imported document: %+v", doc)
	}

	outPath := filepath.Join(t.TempDir(), "out.json")
	if err := runExport([]string{"--out", outPath}); err != nil {
		t.Fatalf("runExport: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	exported, err := graph.DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exported.Relationships) != 1 || exported.Relationships[0].ID != "manual_node_1_node_2" {
		t.Fatalf("unexpected exported relationships: %+v", exported.Relationships)
	}
}

func TestRunImportRejectsInvalidDocument(t *testing.T) {
	dbPath := setupCLI(t)
	bad := writeFile(t, "bad.json", `{"entities": "nope"}`)
	if err := runImport([]string{bad}); err == nil {
		t.Fatal("expected error for invalid document")
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := st.LoadProject(context.Background(), "case-1"); err == nil {
		t.Fatal("an invalid document must not be saved")
	}
}

func TestRunProjectsSubcommands(t *testing.T) {
	setupCLI(t)
	csvPath := writeFile(t, "records.csv", "kind,value\nemail,a@x.com\n")
	if err := runIngest([]string{csvPath}); err != nil {
		t.Fatalf("runIngest: %v", err)
	}

	for _, args := range [][]string{nil, {"list"}, {"revisions"}, {"events", "--limit", "5"}} {
		if err := runProjects(args); err != nil {
			t.Errorf("projects %v: %v", args, err)
		}
	}
	if err := runProjects([]string{"frobnicate"}); err == nil {
		t.Error("expected error for unknown subcommand")
	}
	if err := runProjects([]string{"delete", "case-1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := runProjects([]string{"delete", "case-1"}); err == nil {
		t.Error("expected error deleting a missing project")
	}
}

func TestRunStatsAndConfig(t *testing.T) {
	setupCLI(t)
	if err := runStats(nil); err != nil {
		t.Fatalf("runStats: %v", err)
	}
	if err := runConfig(nil); err != nil {
		t.Fatalf("runConfig: %v", err)
	}
	if err := runStats([]string{"extra"}); err == nil {
		t.Error("expected usage error")
	}
}
