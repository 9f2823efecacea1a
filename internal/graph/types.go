package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EntityType is the kind of an investigated data point.
type EntityType string

const (
	KindEmail        EntityType = "email"
	KindPhone        EntityType = "phone"
	KindName         EntityType = "name"
	KindUsername     EntityType = "username"
	KindAddress      EntityType = "address"
	KindDomain       EntityType = "domain"
	KindIP           EntityType = "ip"
	KindURL          EntityType = "url"
	KindBreach       EntityType = "breach"
	KindPassword     EntityType = "password"
	KindHash         EntityType = "hash"
	KindOrganization EntityType = "organization"
	KindSocial       EntityType = "social"
	KindNote         EntityType = "note"
	KindCustom       EntityType = "custom"
)

// Relationship classes. The class is part of a relationship's semantic id.
const (
	ClassManual       = "manual"
	ClassHypothetical = "hypothetical"
	ClassSameBreach   = "same-breach"
	ClassSearch       = "search"
	ClassLink         = "link"
)

var (
	// ErrUnknownEntity is returned when an operation names an entity that does not exist.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrSelfMerge is returned when an entity is merged into itself.
	ErrSelfMerge = errors.New("cannot merge an entity into itself")
	// ErrTooFewMembers is returned when a cluster would have fewer than two members.
	ErrTooFewMembers = errors.New("cluster needs at least two existing members")
	// ErrUnknownCluster is returned when an operation names a cluster that does not exist.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrValueConflict is returned when an edit would collide with another entity's dedup key.
	ErrValueConflict = errors.New("value already belongs to another entity")
	// ErrInvalidDocument wraps every persisted-state decode or validation failure.
	ErrInvalidDocument = errors.New("invalid graph document")
)

// Point is a canvas position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is an axis-aligned rectangle.
type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the midpoint of b.
func (b Bounds) Center() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// Variation records an entity absorbed into another by a merge.
type Variation struct {
	OriginalID     string         `json:"originalId"`
	Value          string         `json:"value"`
	Kind           EntityType     `json:"kind"`
	SourceMetadata map[string]any `json:"sourceMetadata,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	MergedAt       time.Time      `json:"mergedAt"`
}

// MergeHistoryEntry is everything needed to rebuild a merged-away entity and
// its connectivity.
type MergeHistoryEntry struct {
	Variation
	Label             string         `json:"label"`
	OriginalPosition  Point          `json:"originalPosition"`
	OriginalEdges     []Relationship `json:"originalEdges"`
	OriginalClusterID string         `json:"originalClusterId,omitempty"`
	RetargetedEdgeIDs []string       `json:"retargetedEdgeIds,omitempty"`
	NotesBlock        string         `json:"notesBlock,omitempty"`
}

// Attributes is the free-form attribute bag of an entity. Known keys are typed;
// everything else round-trips through Extra.
type Attributes struct {
	Variations     []Variation
	MergeHistory   []MergeHistoryEntry
	Notes          string
	SourceMetadata map[string]any
	Anchored       bool
	Extra          map[string]any
}

var attributeKeys = map[string]bool{
	"variations":     true,
	"mergeHistory":   true,
	"notes":          true,
	"sourceMetadata": true,
	"anchored":       true,
}

// MarshalJSON flattens the typed fields and Extra into a single object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Extra)+5)
	for k, v := range a.Extra {
		if attributeKeys[k] {
			continue
		}
		m[k] = v
	}
	if len(a.Variations) > 0 {
		m["variations"] = a.Variations
	}
	if len(a.MergeHistory) > 0 {
		m["mergeHistory"] = a.MergeHistory
	}
	if a.Notes != "" {
		m["notes"] = a.Notes
	}
	if len(a.SourceMetadata) > 0 {
		m["sourceMetadata"] = a.SourceMetadata
	}
	if a.Anchored {
		m["anchored"] = true
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits a flat attribute object into typed fields and Extra.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Attributes{}
	for k, v := range raw {
		var err error
		switch k {
		case "variations":
			err = json.Unmarshal(v, &out.Variations)
		case "mergeHistory":
			err = json.Unmarshal(v, &out.MergeHistory)
		case "notes":
			err = json.Unmarshal(v, &out.Notes)
		case "sourceMetadata":
			err = json.Unmarshal(v, &out.SourceMetadata)
		case "anchored":
			err = json.Unmarshal(v, &out.Anchored)
		default:
			var val any
			err = json.Unmarshal(v, &val)
			if err == nil {
				if out.Extra == nil {
					out.Extra = make(map[string]any)
				}
				out.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}
	}
	*a = out
	return nil
}

// Entity is a node in the investigation graph.
type Entity struct {
	ID         string
	Kind       EntityType
	Value      string
	Label      string
	Attributes Attributes
	Position   Point
	ClusterID  string
}

var labelDecorationRE = regexp.MustCompile(`\s*\[\+\d+\]\s*$`)

// StripDecoration removes a trailing "[+n]" merge-count decoration.
func StripDecoration(label string) string {
	return labelDecorationRE.ReplaceAllString(label, "")
}

// DisplayLabel derives the rendered label from the canonical label and the
// current number of variations.
func (e Entity) DisplayLabel() string {
	base := StripDecoration(e.Label)
	if n := len(e.Attributes.Variations); n > 0 {
		return fmt.Sprintf("%s [+%d]", base, n)
	}
	return base
}

// EdgeStyle describes how a relationship is drawn and which logical class it belongs to.
type EdgeStyle struct {
	Class  string `json:"class"`
	Color  string `json:"color,omitempty"`
	Dashes bool   `json:"dashes,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// HypotheticalStyle is used for low-confidence links created instead of a merge.
func HypotheticalStyle() EdgeStyle {
	return EdgeStyle{Class: ClassHypothetical, Color: "#f59e0b", Dashes: true}
}

// Relationship is an edge between two entities.
type Relationship struct {
	ID    string    `json:"id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Style EdgeStyle `json:"style"`
	Note  string    `json:"note,omitempty"`
}

// EdgeID is the semantic id of a relationship of class between from and to.
func EdgeID(class, from, to string) string {
	if class == "" {
		class = ClassManual
	}
	return class + "_" + from + "_" + to
}

// Cluster is a named group of entities that can be collapsed for display.
type Cluster struct {
	ID              string
	Label           string
	MemberIDs       []string
	Bounds          Bounds
	ContentsVisible bool
	Offsets         map[string]Point
}

// HasMember reports whether id is in the cluster.
func (c Cluster) HasMember(id string) bool {
	for _, m := range c.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// EntityInput is the data offered for a new entity.
type EntityInput struct {
	Kind           EntityType
	Value          string
	Label          string
	Notes          string
	SourceMetadata map[string]any
	Extra          map[string]any
	Position       *Point
}

// DedupKey is the exact-match key of the value index.
func DedupKey(kind EntityType, value string) string {
	return string(kind) + "_" + strings.ToLower(strings.TrimSpace(value))
}
