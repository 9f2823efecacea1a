// Package resolve is the decision layer between duplicate detection and the
// graph. A Request describes a candidate value and its near matches; a
// Decider answers it with a Decision. Deciders may be fixed policies (batch
// ingestion) or a Broker that parks the request until someone resolves it.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/casegraph/internal/similarity"
)

// DecisionKind is the answer to a Request.
type DecisionKind string

const (
	// DecideMerge folds the candidate into TargetID: no new entity is created.
	DecideMerge DecisionKind = "merge"
	// DecideHypothetical creates the candidate and links it to TargetID with a hypothetical edge.
	DecideHypothetical DecisionKind = "hypothetical"
	// DecideCreate creates the candidate as an independent entity.
	DecideCreate DecisionKind = "create"
	// DecideCancel discards the candidate.
	DecideCancel DecisionKind = "cancel"
)

var (
	// ErrUnknownRequest is returned when resolving a request that is not pending.
	ErrUnknownRequest = errors.New("unknown or already resolved request")
	// ErrUnknownPolicy is returned by ParsePolicy for unrecognized names.
	ErrUnknownPolicy = errors.New("unknown decision policy")
	// ErrInvalidDecision is returned for a decision kind outside the known set.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Request asks what to do with a candidate that has near-duplicates.
type Request struct {
	ID             string             `json:"id"`
	Kind           string             `json:"kind"`
	CandidateValue string             `json:"candidate_value"`
	Label          string             `json:"label,omitempty"`
	Matches        []similarity.Match `json:"matches"`
	CreatedAt      time.Time          `json:"created_at"`
}

// NewRequest builds a Request with a fresh id.
func NewRequest(kind, value, label string, matches []similarity.Match) Request {
	return Request{
		ID:             uuid.New().String(),
		Kind:           kind,
		CandidateValue: value,
		Label:          label,
		Matches:        matches,
		CreatedAt:      time.Now().UTC(),
	}
}

// Best returns the highest-scoring match.
func (r Request) Best() (similarity.Match, bool) {
	if len(r.Matches) == 0 {
		return similarity.Match{}, false
	}
	return r.Matches[0], true
}

// Decision is the answer to a Request. TargetID is required for merge and
// hypothetical; when empty the best match is used.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	TargetID string       `json:"target_id,omitempty"`
}

// Validate checks the kind.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecideMerge, DecideHypothetical, DecideCreate, DecideCancel:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, d.Kind)
	}
}

// ParseDecisionKind maps user input to a DecisionKind.
func ParseDecisionKind(s string) (DecisionKind, error) {
	k := DecisionKind(strings.ToLower(strings.TrimSpace(s)))
	if err := (Decision{Kind: k}).Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Decider answers requests. Decide may block; implementations must honor ctx.
type Decider interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Policy names accepted by ParsePolicy.
const (
	PolicyAuto   = "auto"
	PolicyCreate = "create"
	PolicyMerge  = "merge"
	PolicyLink   = "link"
	PolicyCancel = "cancel"
)

// CreateAnyway keeps every candidate as its own entity.
var CreateAnyway Decider = DeciderFunc(func(context.Context, Request) (Decision, error) {
	return Decision{Kind: DecideCreate}, nil
})

// MergeBest merges every candidate into its best match.
var MergeBest Decider = DeciderFunc(func(_ context.Context, req Request) (Decision, error) {
	best, ok := req.Best()
	if !ok {
		return Decision{Kind: DecideCreate}, nil
	}
	return Decision{Kind: DecideMerge, TargetID: best.EntityID}, nil
})

// LinkBest creates every candidate with a hypothetical link to its best match.
var LinkBest Decider = DeciderFunc(func(_ context.Context, req Request) (Decision, error) {
	best, ok := req.Best()
	if !ok {
		return Decision{Kind: DecideCreate}, nil
	}
	return Decision{Kind: DecideHypothetical, TargetID: best.EntityID}, nil
})

// CancelAll drops every candidate that has near matches.
var CancelAll Decider = DeciderFunc(func(context.Context, Request) (Decision, error) {
	return Decision{Kind: DecideCancel}, nil
})

// FollowSuggestion merges when the best match is in the merge band and creates
// otherwise. The engine only asks for a decision on merge-band matches; the
// hypothetical band is linked by the engine itself when auto-link is on.
var FollowSuggestion Decider = DeciderFunc(func(_ context.Context, req Request) (Decision, error) {
	best, ok := req.Best()
	if !ok || best.SuggestedAction != similarity.ActionMerge {
		return Decision{Kind: DecideCreate}, nil
	}
	return Decision{Kind: DecideMerge, TargetID: best.EntityID}, nil
})

// ParsePolicy returns the fixed policy called name.
func ParsePolicy(name string) (Decider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAuto:
		return FollowSuggestion, nil
	case PolicyCreate:
		return CreateAnyway, nil
	case PolicyMerge:
		return MergeBest, nil
	case PolicyLink, "hypothetical":
		return LinkBest, nil
	case PolicyCancel:
		return CancelAll, nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: auto, create, merge, link, cancel)", ErrUnknownPolicy, name)
	}
}
