package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/logger"
	"github.com/hurttlocker/casegraph/internal/similarity"
)

// Source is what the HTTP server reads from. *engine.Engine satisfies it.
type Source interface {
	View() graph.View
	ExportJSON() ([]byte, error)
	FindSimilar(kind graph.EntityType, value string) []similarity.Match
}

// ServerConfig holds settings for the read-only graph API.
type ServerConfig struct {
	Source Source
	Port   int
	Logger *logger.Logger

	// Stats and Decisions back /api/stats and /api/decisions when set.
	Stats     func() any
	Decisions func() any
}

// ViewResult is the /api/graph payload.
type ViewResult struct {
	graph.View
	Meta map[string]interface{} `json:"meta"`
}

// Handler builds the API mux.
func Handler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/graph", func(w http.ResponseWriter, r *http.Request) {
		handleGraphAPI(w, r, cfg.Source)
	})

	// Persisted document, byte-for-byte what a save would write.
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		handleStateAPI(w, r, cfg.Source)
	})

	mux.HandleFunc("/api/similar", func(w http.ResponseWriter, r *http.Request) {
		handleSimilarAPI(w, r, cfg.Source)
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		handleOptional(w, cfg.Stats)
	})

	mux.HandleFunc("/api/decisions", func(w http.ResponseWriter, r *http.Request) {
		handleOptional(w, cfg.Decisions)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve runs the API on cfg.Port until ctx is done.
func Serve(ctx context.Context, cfg ServerConfig) error {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("graph API listening", "addr", "http://localhost"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("graph API shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func handleGraphAPI(w http.ResponseWriter, r *http.Request, src Source) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	v := src.View()
	aggregates := 0
	for _, n := range v.Nodes {
		if n.Aggregate {
			aggregates++
		}
	}
	writeJSON(w, 200, ViewResult{
		View: v,
		Meta: map[string]interface{}{
			"total_nodes":        len(v.Nodes),
			"total_edges":        len(v.Edges),
			"collapsed_clusters": aggregates,
		},
	})
}

func handleStateAPI(w http.ResponseWriter, r *http.Request, src Source) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	data, err := src.ExportJSON()
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(200)
	w.Write(data)
}

func handleSimilarAPI(w http.ResponseWriter, r *http.Request, src Source) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	value := r.URL.Query().Get("value")
	if value == "" {
		writeJSON(w, 400, map[string]string{"error": "value parameter required"})
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeJSON(w, 400, map[string]string{"error": "kind parameter required"})
		return
	}

	matches := src.FindSimilar(graph.EntityType(kind), value)
	if matches == nil {
		matches = []similarity.Match{}
	}
	writeJSON(w, 200, map[string]interface{}{
		"kind":    kind,
		"value":   value,
		"matches": matches,
		"total":   len(matches),
	})
}

func handleOptional(w http.ResponseWriter, fn func() any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if fn == nil {
		writeJSON(w, 404, map[string]string{"error": "not available"})
		return
	}
	writeJSON(w, 200, fn())
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
