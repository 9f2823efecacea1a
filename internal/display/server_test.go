package display

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/similarity"
)

type graphSource struct{ g *graph.Graph }

func (s graphSource) View() graph.View { return s.g.View() }

func (s graphSource) ExportJSON() ([]byte, error) { return graph.EncodeDocument(s.g.Export()) }

func (s graphSource) FindSimilar(kind graph.EntityType, value string) []similarity.Match {
	return s.g.FindSimilar(kind, value, similarity.DefaultThresholds())
}

func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.Source == nil {
		cfg.Source = graphSource{sampleGraph(t)}
	}
	ts := httptest.NewServer(Handler(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantCode int, into interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantCode)
	}
	if into == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestGraphAPIEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	var result struct {
		Nodes []graph.ViewNode       `json:"nodes"`
		Edges []graph.ViewEdge       `json:"edges"`
		Meta  map[string]interface{} `json:"meta"`
	}
	getJSON(t, ts.URL+"/api/graph", 200, &result)
	if len(result.Nodes) != 2 || len(result.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(result.Nodes), len(result.Edges))
	}
	if result.Meta["total_nodes"].(float64) != 2 || result.Meta["collapsed_clusters"].(float64) != 0 {
		t.Fatalf("meta = %v", result.Meta)
	}
}

func TestStateAPIServesPersistedDocument(t *testing.T) {
	g := sampleGraph(t)
	ts := newTestServer(t, ServerConfig{Source: graphSource{g}})

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := graph.EncodeDocument(g.Export())
	if string(body) != string(want) {
		t.Fatalf("state body:\n%s\nwant:\n%s", body, want)
	}
}

func TestSimilarAPIEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	getJSON(t, ts.URL+"/api/similar?kind=email", 400, nil)
	getJSON(t, ts.URL+"/api/similar?value=a@x.com", 400, nil)

	var result struct {
		Matches []similarity.Match `json:"matches"`
		Total   int                `json:"total"`
	}
	getJSON(t, ts.URL+"/api/similar?kind=email&value=a@x.co", 200, &result)
	if result.Total != 1 || result.Matches[0].EntityID != "node_1" {
		t.Fatalf("result = %+v", result)
	}

	getJSON(t, ts.URL+"/api/similar?kind=phone&value=a@x.co", 200, &result)
	if result.Total != 0 || result.Matches == nil {
		t.Fatalf("kind filter: %+v", result)
	}
}

func TestOptionalEndpoints(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	getJSON(t, ts.URL+"/api/stats", 404, nil)
	getJSON(t, ts.URL+"/api/decisions", 404, nil)

	ts = newTestServer(t, ServerConfig{
		Stats:     func() any { return map[string]int{"entities": 2} },
		Decisions: func() any { return []string{} },
	})
	var stats map[string]int
	getJSON(t, ts.URL+"/api/stats", 200, &stats)
	if stats["entities"] != 2 {
		t.Fatalf("stats = %v", stats)
	}
	var pending []string
	getJSON(t, ts.URL+"/api/decisions", 200, &pending)
	if len(pending) != 0 {
		t.Fatalf("decisions = %v", pending)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	getJSON(t, ts.URL+"/metrics", 200, nil)
}
