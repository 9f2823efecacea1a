package graph

import "sort"

// AddRelationship links from and to with style. Self-loops, missing endpoints
// and duplicates (same class, either direction) are no-ops; for a duplicate the
// existing id is returned with added=false.
func (g *Graph) AddRelationship(from, to string, style EdgeStyle, note string) (string, bool) {
	if from == to {
		return "", false
	}
	if !g.HasEntity(from) || !g.HasEntity(to) {
		return "", false
	}
	if style.Class == "" {
		style.Class = ClassManual
	}
	id := EdgeID(style.Class, from, to)
	if _, ok := g.relationships[id]; ok {
		return id, false
	}
	if reverse := EdgeID(style.Class, to, from); g.relationships[reverse] != nil {
		return reverse, false
	}
	g.relationships[id] = &Relationship{ID: id, From: from, To: to, Style: style, Note: note}
	return id, true
}

// RemoveRelationship deletes the relationship with id.
func (g *Graph) RemoveRelationship(id string) bool {
	if _, ok := g.relationships[id]; !ok {
		return false
	}
	delete(g.relationships, id)
	return true
}

// SetRelationshipNote replaces the note on id.
func (g *Graph) SetRelationshipNote(id, note string) bool {
	r, ok := g.relationships[id]
	if !ok || r.Note == note {
		return false
	}
	r.Note = note
	return true
}

// Relationship returns a copy of the relationship with id.
func (g *Graph) Relationship(id string) (Relationship, bool) {
	r, ok := g.relationships[id]
	if !ok {
		return Relationship{}, false
	}
	return *r, true
}

// Relationships returns copies of all relationships sorted by id.
func (g *Graph) Relationships() []Relationship {
	out := make([]Relationship, 0, len(g.relationships))
	for _, r := range g.relationships {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RelationshipBetween finds any relationship joining a and b, in either
// direction and of any class.
func (g *Graph) RelationshipBetween(a, b string) (string, bool) {
	ids := make([]string, 0, 1)
	for id, r := range g.relationships {
		if (r.From == a && r.To == b) || (r.From == b && r.To == a) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

// IncidentRelationships returns copies of every relationship touching id.
func (g *Graph) IncidentRelationships(id string) []Relationship {
	out := make([]Relationship, 0)
	for _, r := range g.relationships {
		if r.From == id || r.To == id {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
