// Package mcp provides a Model Context Protocol server for casegraph.
//
// It exposes the investigation engine (entity adds, merges, clusters, undo,
// views) as MCP tools and graph statistics and pending decisions as MCP
// resources. When an add lands on a near-duplicate the tool returns a pending
// decision instead of blocking; decision_resolve completes it. Every applied
// change is saved to the project store and journaled.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/casegraph/internal/engine"
	"github.com/hurttlocker/casegraph/internal/logger"
	"github.com/hurttlocker/casegraph/internal/resolve"
	"github.com/hurttlocker/casegraph/internal/store"
)

// DefaultDecisionTimeout is how long an unresolved decision stays pending
// before the add is cancelled.
const DefaultDecisionTimeout = 10 * time.Minute

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Engine  *engine.Engine
	Store   store.Store // optional; nil disables autosave
	Project string
	Version string // version string for MCP server info
	Logger  *logger.Logger

	// DecisionTimeout bounds how long a pending decision waits for
	// decision_resolve; zero means DefaultDecisionTimeout.
	DecisionTimeout time.Duration
}

// session is the state shared by every tool handler of one server.
type session struct {
	eng     *engine.Engine
	st      store.Store
	project string
	log     *logger.Logger
	broker  *resolve.Broker
	timeout time.Duration

	// saveMu keeps document saves in the order their changes were applied.
	saveMu sync.Mutex

	mu      sync.Mutex
	signals map[string]chan resolve.Request // request id -> parked signal of its add call
	waiters map[string]chan addResult       // request id -> outcome of its add call
}

type addResult struct {
	outcome engine.Outcome
	err     error
}

// NewServer creates a configured MCP server with all casegraph tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"casegraph",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	sess := newSession(cfg)

	registerEntityAddTool(s, sess)
	registerEntitySimilarTool(s, sess)
	registerEntityUpdateTool(s, sess)
	registerEntityChangeKindTool(s, sess)
	registerEntityRemoveTool(s, sess)
	registerEntityMergeTool(s, sess)
	registerEntityUnmergeTool(s, sess)

	registerRelationshipAddTool(s, sess)
	registerRelationshipRemoveTool(s, sess)
	registerClusterCreateTool(s, sess)
	registerClusterRemoveTool(s, sess)
	registerClusterMembersTool(s, sess)
	registerClusterVisibilityTool(s, sess)
	registerUndoTool(s, sess)
	registerGraphViewTool(s, sess)
	registerGraphExportTool(s, sess)

	registerDecisionsListTool(s, sess)
	registerDecisionResolveTool(s, sess)

	registerStatsResource(s, sess)
	registerDecisionsResource(s, sess)
	registerDocumentResource(s, sess)

	return s
}

func newSession(cfg ServerConfig) *session {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	project := cfg.Project
	if project == "" {
		project = "default"
	}
	timeout := cfg.DecisionTimeout
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	sess := &session{
		eng:     cfg.Engine,
		st:      cfg.Store,
		project: project,
		log:     log.With("component", "mcp", "project", project),
		timeout: timeout,
		signals: make(map[string]chan resolve.Request),
		waiters: make(map[string]chan addResult),
	}
	sess.broker = resolve.NewBroker(sess.parked)
	return sess
}

// persist saves the current document and journals op. Store failures are
// logged; the change itself already happened.
func (s *session) persist(ctx context.Context, op, description string) {
	if s.st == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := s.eng.ExportJSON()
	if err != nil {
		s.log.Error("export for autosave failed", "op", op, "error", err)
		return
	}
	if _, err := s.st.SaveProject(ctx, s.project, data); err != nil {
		s.log.Error("autosave failed", "op", op, "error", err)
		return
	}
	if err := s.st.LogEvent(ctx, &store.Event{Project: s.project, Op: op, Description: description}); err != nil {
		s.log.Warn("journal write failed", "op", op, "error", err)
	}
}

// parked is the broker hook: it wakes the add call that owns req.
func (s *session) parked(req resolve.Request) {
	s.mu.Lock()
	ch := s.signals[req.ID]
	delete(s.signals, req.ID)
	s.mu.Unlock()
	if ch != nil {
		ch <- req
	}
}

// brokered returns a decider that routes a call's request through the shared
// broker. parkedCh is signalled once the request is visible as pending and
// done is registered as its outcome channel until the decision returns.
func (s *session) brokered(parkedCh chan resolve.Request, done chan addResult) resolve.Decider {
	return resolve.DeciderFunc(func(ctx context.Context, req resolve.Request) (resolve.Decision, error) {
		s.mu.Lock()
		s.signals[req.ID] = parkedCh
		s.waiters[req.ID] = done
		s.mu.Unlock()
		defer s.forget(req.ID)
		return s.broker.Decide(ctx, req)
	})
}

func (s *session) takeWaiter(id string) (chan addResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[id]
	if ok {
		delete(s.waiters, id)
	}
	return ch, ok
}

func (s *session) forget(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	delete(s.signals, id)
	s.mu.Unlock()
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

func errorResult(action string, err error) *mcp.CallToolResult {
	var msg string
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("%s interrupted: %v", action, err)
	default:
		msg = fmt.Sprintf("%s error: %v", action, err)
	}
	return mcp.NewToolResultError(msg)
}
