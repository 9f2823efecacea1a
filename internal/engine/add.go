package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/metrics"
	"github.com/hurttlocker/casegraph/internal/resolve"
	"github.com/hurttlocker/casegraph/internal/similarity"
)

// ErrTargetGone is returned by Commit when the decision names an entity that
// no longer exists.
var ErrTargetGone = errors.New("decision target no longer exists")

// Outcome reports what AddEntity did.
type Outcome struct {
	EntityID       string               `json:"entity_id,omitempty"`
	WasExisting    bool                 `json:"was_existing"`
	Created        bool                 `json:"created"`
	Cancelled      bool                 `json:"cancelled"`
	LinkedTo       string               `json:"linked_to,omitempty"`
	RelationshipID string               `json:"relationship_id,omitempty"`
	Decision       resolve.DecisionKind `json:"decision,omitempty"`
	Review         []similarity.Match   `json:"review,omitempty"`
}

// Proposal is the read-only plan for adding an entity. When Request is set a
// decision is needed before Commit.
type Proposal struct {
	Input   graph.EntityInput
	Force   bool
	Matches []similarity.Match
	Request *resolve.Request

	existing string
}

// Immediate reports whether the proposal resolved to an existing entity
// without any change.
func (p Proposal) Immediate() (Outcome, bool) {
	if p.existing == "" {
		return Outcome{}, false
	}
	return Outcome{EntityID: p.existing, WasExisting: true}, true
}

// NeedsDecision reports whether Commit requires a decision.
func (p Proposal) NeedsDecision() bool {
	return p.Request != nil
}

// Propose looks input up without changing anything. An exact key hit is
// immediate; a match in the merge band yields a Request.
func (e *Engine) Propose(input graph.EntityInput, force bool) Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := Proposal{Input: input, Force: force}
	if force {
		return p
	}
	if id, ok := e.g.Lookup(input.Kind, input.Value); ok {
		p.existing = id
		return p
	}
	p.Matches = e.g.FindSimilar(input.Kind, input.Value, e.thresholds)
	if best, ok := firstMatch(p.Matches); ok && best.SuggestedAction == similarity.ActionMerge {
		req := resolve.NewRequest(string(input.Kind), input.Value, input.Label, p.Matches)
		p.Request = &req
	}
	return p
}

// AddEntity proposes input, asks decider when a near-duplicate needs a
// decision, and commits. The engine lock is not held while decider runs. A
// nil decider creates the entity anyway.
func (e *Engine) AddEntity(ctx context.Context, input graph.EntityInput, force bool, decider resolve.Decider) (Outcome, error) {
	p := e.Propose(input, force)
	if out, ok := p.Immediate(); ok {
		metrics.DuplicatesResolved.WithLabelValues("exact").Inc()
		return out, nil
	}
	var d resolve.Decision
	if p.NeedsDecision() {
		if decider == nil {
			decider = resolve.CreateAnyway
		}
		var err error
		d, err = decider.Decide(ctx, *p.Request)
		if err != nil {
			e.log.Warn("decision failed; treating as cancel", "request_id", p.Request.ID, "error", err)
			return Outcome{Cancelled: true, Decision: resolve.DecideCancel}, fmt.Errorf("decide %s: %w", p.Request.ID, err)
		}
	}
	return e.Commit(p, d)
}

// Commit applies p. For a proposal that needs a decision, d selects the
// outcome; otherwise d is ignored and the band of the best match decides.
// The exact key is re-checked so a concurrent add of the same value resolves
// to the existing entity.
func (e *Engine) Commit(p Proposal, d resolve.Decision) (Outcome, error) {
	in := p.Input

	e.mu.Lock()
	if !p.Force {
		if id, ok := e.g.Lookup(in.Kind, in.Value); ok {
			e.mu.Unlock()
			metrics.DuplicatesResolved.WithLabelValues("exact").Inc()
			return Outcome{EntityID: id, WasExisting: true}, nil
		}
	}

	kind, target, err := e.plan(p, d)
	if err != nil {
		e.mu.Unlock()
		return Outcome{}, err
	}
	if kind == resolve.DecideCancel {
		e.mu.Unlock()
		metrics.Decisions.WithLabelValues(string(kind)).Inc()
		e.log.Info("add cancelled", "kind", in.Kind)
		return Outcome{Cancelled: true, Decision: kind}, nil
	}
	if target != "" && !e.g.HasEntity(target) {
		e.mu.Unlock()
		return Outcome{}, fmt.Errorf("%s into %s: %w", kind, target, ErrTargetGone)
	}
	if kind == resolve.DecideMerge {
		e.mu.Unlock()
		metrics.Decisions.WithLabelValues(string(kind)).Inc()
		e.log.Info("add resolved to existing entity", "kind", in.Kind, "entity_id", target)
		return Outcome{EntityID: target, WasExisting: true, Decision: kind}, nil
	}

	if in.Position == nil && e.surface != nil {
		c := e.surface.ViewportCenter()
		in.Position = &c
	}
	snap := e.g.Capture()
	res := e.g.Upsert(in, p.Force)
	out := Outcome{EntityID: res.EntityID, Created: true, Decision: kind}
	desc := fmt.Sprintf("add %s %s", in.Kind, res.EntityID)
	if kind == resolve.DecideHypothetical {
		rid, _ := e.g.AddRelationship(res.EntityID, target, graph.HypotheticalStyle(), "")
		out.LinkedTo, out.RelationshipID = target, rid
		desc += " (hypothetical link to " + target + ")"
	}
	out.Review = reviewMatches(p.Matches, target)
	e.commitLocked(desc, snap)
	e.mu.Unlock()

	metrics.EntitiesCreated.Inc()
	if p.Force {
		metrics.DuplicatesResolved.WithLabelValues("forced").Inc()
	}
	if p.Request != nil || kind == resolve.DecideHypothetical {
		metrics.Decisions.WithLabelValues(string(kind)).Inc()
	}
	e.log.Info("entity added", "entity_id", out.EntityID, "kind", in.Kind, "decision", kind, "linked_to", out.LinkedTo)
	e.emit("entity_add", desc)
	return out, nil
}

// plan picks the decision and target for p. Called with the lock held.
func (e *Engine) plan(p Proposal, d resolve.Decision) (resolve.DecisionKind, string, error) {
	best, hasBest := firstMatch(p.Matches)
	if p.Request != nil {
		if err := d.Validate(); err != nil {
			return "", "", err
		}
		target := d.TargetID
		if target == "" && (d.Kind == resolve.DecideMerge || d.Kind == resolve.DecideHypothetical) {
			if !hasBest {
				return "", "", fmt.Errorf("%s without target: %w", d.Kind, resolve.ErrInvalidDecision)
			}
			target = best.EntityID
		}
		if d.Kind == resolve.DecideCreate || d.Kind == resolve.DecideCancel {
			target = ""
		}
		return d.Kind, target, nil
	}
	if hasBest && e.autoLink && best.SuggestedAction == similarity.ActionHypothetical {
		return resolve.DecideHypothetical, best.EntityID, nil
	}
	return resolve.DecideCreate, "", nil
}

func firstMatch(ms []similarity.Match) (similarity.Match, bool) {
	if len(ms) == 0 {
		return similarity.Match{}, false
	}
	return ms[0], true
}

// reviewMatches lists the near matches left for a human to look at.
func reviewMatches(ms []similarity.Match, linked string) []similarity.Match {
	out := make([]similarity.Match, 0, len(ms))
	for _, m := range ms {
		if m.EntityID == linked {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
