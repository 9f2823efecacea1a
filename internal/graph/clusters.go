package graph

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// clusterPadding is added around the member bounding box.
const clusterPadding = 60.0

// CreateCluster groups memberIDs under label. Unknown and repeated ids are
// ignored; fewer than two remaining members is ErrTooFewMembers and nothing is
// created. Members of another cluster are moved.
func (g *Graph) CreateCluster(memberIDs []string, label string) (string, error) {
	members := g.existingDistinct(memberIDs)
	if len(members) < 2 {
		return "", fmt.Errorf("create cluster with %d valid members: %w", len(members), ErrTooFewMembers)
	}

	g.clusterCounter++
	id := clusterIDPrefix + strconv.Itoa(g.clusterCounter)
	for g.clusters[id] != nil {
		g.clusterCounter++
		id = clusterIDPrefix + strconv.Itoa(g.clusterCounter)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = fmt.Sprintf("Cluster %d", g.clusterCounter)
	}

	c := &Cluster{
		ID:              id,
		Label:           label,
		ContentsVisible: g.contentsVisible,
		Offsets:         make(map[string]Point),
	}
	g.clusters[id] = c
	for _, m := range members {
		if prev := g.entities[m].ClusterID; prev != "" {
			g.dropMember(prev, m)
		}
		g.addMember(c, m)
	}
	g.recomputeBounds(c)
	return id, nil
}

// RemoveCluster dissolves id. Members that were deleted in the meantime are
// skipped.
func (g *Graph) RemoveCluster(id string) bool {
	c, ok := g.clusters[id]
	if !ok {
		return false
	}
	for _, m := range c.MemberIDs {
		if e, ok := g.entities[m]; ok && e.ClusterID == id {
			e.ClusterID = ""
		}
	}
	delete(g.clusters, id)
	return true
}

// AddMembers adds existing ids to cluster id and returns how many joined.
func (g *Graph) AddMembers(id string, memberIDs []string) (int, error) {
	c, ok := g.clusters[id]
	if !ok {
		return 0, fmt.Errorf("add members to %s: %w", id, ErrUnknownCluster)
	}
	added := 0
	for _, m := range g.existingDistinct(memberIDs) {
		if c.HasMember(m) {
			continue
		}
		if prev := g.entities[m].ClusterID; prev != "" {
			g.dropMember(prev, m)
		}
		g.addMember(c, m)
		added++
	}
	if added > 0 {
		g.recomputeBounds(c)
	}
	return added, nil
}

// RemoveMembers detaches ids from cluster id and returns how many left.
func (g *Graph) RemoveMembers(id string, memberIDs []string) (int, error) {
	c, ok := g.clusters[id]
	if !ok {
		return 0, fmt.Errorf("remove members from %s: %w", id, ErrUnknownCluster)
	}
	removed := 0
	for _, m := range memberIDs {
		if !c.HasMember(m) {
			continue
		}
		g.dropMember(id, m)
		removed++
	}
	return removed, nil
}

// SetContentsVisible shows or hides the members of every cluster.
func (g *Graph) SetContentsVisible(visible bool) bool {
	changed := g.contentsVisible != visible
	g.contentsVisible = visible
	for _, c := range g.clusters {
		if c.ContentsVisible != visible {
			c.ContentsVisible = visible
			changed = true
		}
	}
	return changed
}

// ContentsVisible reports the process-wide cluster contents flag.
func (g *Graph) ContentsVisible() bool {
	return g.contentsVisible
}

// MoveCluster recenters id on center; members keep their offsets.
func (g *Graph) MoveCluster(id string, center Point) error {
	c, ok := g.clusters[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrUnknownCluster)
	}
	for _, m := range c.MemberIDs {
		e, ok := g.entities[m]
		if !ok {
			continue
		}
		off := c.Offsets[m]
		e.Position = Point{X: center.X + off.X, Y: center.Y + off.Y}
	}
	g.recomputeBounds(c)
	return nil
}

// RenameCluster relabels id.
func (g *Graph) RenameCluster(id, label string) error {
	c, ok := g.clusters[id]
	if !ok {
		return fmt.Errorf("rename %s: %w", id, ErrUnknownCluster)
	}
	c.Label = strings.TrimSpace(label)
	return nil
}

// Cluster returns a copy of cluster id.
func (g *Graph) Cluster(id string) (Cluster, bool) {
	c, ok := g.clusters[id]
	if !ok {
		return Cluster{}, false
	}
	return cloneCluster(c), true
}

// Clusters returns copies of every cluster in id order.
func (g *Graph) Clusters() []Cluster {
	ids := make([]string, 0, len(g.clusters))
	for id := range g.clusters {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]Cluster, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneCluster(g.clusters[id]))
	}
	return out
}

func (g *Graph) existingDistinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] || !g.HasEntity(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (g *Graph) addMember(c *Cluster, id string) {
	if e, ok := g.entities[id]; ok {
		e.ClusterID = c.ID
	}
	i := sort.SearchStrings(c.MemberIDs, id)
	if i < len(c.MemberIDs) && c.MemberIDs[i] == id {
		return
	}
	c.MemberIDs = append(c.MemberIDs, "")
	copy(c.MemberIDs[i+1:], c.MemberIDs[i:])
	c.MemberIDs[i] = id
}

// dropMember detaches id from cluster clusterID on both sides.
func (g *Graph) dropMember(clusterID, id string) {
	if e, ok := g.entities[id]; ok && e.ClusterID == clusterID {
		e.ClusterID = ""
	}
	c, ok := g.clusters[clusterID]
	if !ok {
		return
	}
	for i, m := range c.MemberIDs {
		if m == id {
			c.MemberIDs = removeAt(c.MemberIDs, i)
			break
		}
	}
	delete(c.Offsets, id)
	g.recomputeBounds(c)
}

func (g *Graph) recomputeBounds(c *Cluster) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	live := 0
	for _, m := range c.MemberIDs {
		e, ok := g.entities[m]
		if !ok {
			continue
		}
		live++
		minX = math.Min(minX, e.Position.X)
		minY = math.Min(minY, e.Position.Y)
		maxX = math.Max(maxX, e.Position.X)
		maxY = math.Max(maxY, e.Position.Y)
	}
	if live == 0 {
		return
	}
	c.Bounds = Bounds{
		X: minX - clusterPadding,
		Y: minY - clusterPadding,
		W: maxX - minX + 2*clusterPadding,
		H: maxY - minY + 2*clusterPadding,
	}
	center := c.Bounds.Center()
	if c.Offsets == nil {
		c.Offsets = make(map[string]Point, len(c.MemberIDs))
	}
	for _, m := range c.MemberIDs {
		if e, ok := g.entities[m]; ok {
			c.Offsets[m] = Point{X: e.Position.X - center.X, Y: e.Position.Y - center.Y}
		}
	}
}
