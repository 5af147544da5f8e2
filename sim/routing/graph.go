// Package routing implements the congestion-aware proximity graph used
// for all agent path planning. Venues (plus any synthetic nodes) are
// connected to their K nearest neighbors to emulate a road network
// rather than a complete graph, and edge costs inflate with live node
// load fed back from the analytics engine.
package routing

import (
	"container/heap"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Algorithm selects the pathfinding strategy for a query.
type Algorithm string

const (
	AlgorithmAStar    Algorithm = "astar"
	AlgorithmDijkstra Algorithm = "dijkstra"
)

// Node is a routing graph vertex. Load is the only field mutated after
// Connect, and only through UpdateNodeLoad or a scoped boost.
type Node struct {
	ID         string
	Loc        geo.Point
	Type       string
	Accessible bool
	Capacity   float64 // <= 0 means unconstrained
	Load       float64

	neighbors []edge
}

type edge struct {
	to   string
	dist float64
}

// congestionFactor is the multiplier applied to edges entering this node.
func (n *Node) congestionFactor() float64 {
	if n.Capacity <= 0 {
		return 1.0
	}
	return 1.0 + 0.5*(n.Load/n.Capacity)
}

// Config holds graph construction parameters.
type Config struct {
	// NearestNeighbors is K in the K-nearest-neighbor build phase.
	NearestNeighbors int
	// SnapThreshold is the maximum distance at which a query endpoint
	// snaps to a graph node. Beyond it the query falls back to a
	// direct two-point path.
	SnapThreshold float64
}

// DefaultConfig matches the scale of unit-space city scenarios.
func DefaultConfig() Config {
	return Config{
		NearestNeighbors: 5,
		SnapThreshold:    0.1,
	}
}

// Graph is the routing graph. Safe for sequential use by the step loop;
// callers requiring concurrent queries must synchronize externally.
type Graph struct {
	cfg   Config
	nodes map[string]*Node
	order []string // insertion order, for deterministic iteration
}

// NewGraph returns an empty graph with the given configuration.
func NewGraph(cfg Config) *Graph {
	if cfg.NearestNeighbors <= 0 {
		cfg.NearestNeighbors = DefaultConfig().NearestNeighbors
	}
	if cfg.SnapThreshold <= 0 {
		cfg.SnapThreshold = DefaultConfig().SnapThreshold
	}
	return &Graph{
		cfg:   cfg,
		nodes: make(map[string]*Node),
	}
}

// AddNode inserts a vertex. Venues and synthetic nodes (intersections,
// transit stops) go through the same path. Re-adding an id replaces it.
func (g *Graph) AddNode(id string, loc geo.Point, nodeType string, accessible bool, capacity float64) *Node {
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	n := &Node{
		ID:         id,
		Loc:        loc,
		Type:       nodeType,
		Accessible: accessible,
		Capacity:   capacity,
	}
	g.nodes[id] = n
	return n
}

// Connect builds the sparsified road network: each node gains
// bidirectional edges to its K nearest neighbors. Existing edges are
// rebuilt from scratch, so Connect may be called again after AddNode.
func (g *Graph) Connect() {
	for _, id := range g.order {
		g.nodes[id].neighbors = nil
	}

	type cand struct {
		id   string
		dist float64
	}
	for _, id := range g.order {
		n := g.nodes[id]
		cands := make([]cand, 0, len(g.order)-1)
		for _, otherID := range g.order {
			if otherID == id {
				continue
			}
			cands = append(cands, cand{otherID, geo.Distance(n.Loc, g.nodes[otherID].Loc)})
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].dist != cands[j].dist {
				return cands[i].dist < cands[j].dist
			}
			return cands[i].id < cands[j].id
		})
		k := g.cfg.NearestNeighbors
		if k > len(cands) {
			k = len(cands)
		}
		for _, c := range cands[:k] {
			g.addEdge(id, c.id, c.dist)
			g.addEdge(c.id, id, c.dist)
		}
	}
	logrus.Debugf("routing graph connected: %d nodes, k=%d", len(g.order), g.cfg.NearestNeighbors)
}

func (g *Graph) addEdge(from, to string, dist float64) {
	n := g.nodes[from]
	for _, e := range n.neighbors {
		if e.to == to {
			return
		}
	}
	n.neighbors = append(n.neighbors, edge{to: to, dist: dist})
}

// Node returns the vertex with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all vertices in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// NearestNode returns the closest node within maxDist of p, or nil.
func (g *Graph) NearestNode(p geo.Point, maxDist float64) *Node {
	if id := g.nearest(p, maxDist, false); id != "" {
		return g.nodes[id]
	}
	return nil
}

// UpdateNodeLoad sets the live traffic load on a node. Unknown ids are
// ignored; the analytics engine may be ahead of a graph rebuild.
func (g *Graph) UpdateNodeLoad(id string, load float64) {
	if n, ok := g.nodes[id]; ok {
		n.Load = load
	}
}

// FindPath returns an ordered waypoint list from start to end.
//
// Endpoints snap to the nearest graph node within the snap threshold;
// when no node is near enough the query degrades to the direct
// two-point path [start, end] rather than failing.
// Accessibility-required queries traverse only accessible nodes; when
// the snapped endpoint itself is inaccessible the nearest accessible
// node within 2×threshold is used instead, and if none exists the
// query reports no route by returning nil.
func (g *Graph) FindPath(start, end geo.Point, accessibilityRequired bool, alg Algorithm) []geo.Point {
	startID, ok := g.snap(start, accessibilityRequired)
	if !ok {
		return nil
	}
	endID, ok := g.snap(end, accessibilityRequired)
	if !ok {
		return nil
	}
	if startID == "" || endID == "" || startID == endID {
		return []geo.Point{start, end}
	}

	var ids []string
	switch alg {
	case AlgorithmAStar:
		ids = g.astar(startID, endID, accessibilityRequired)
	default:
		ids = g.dijkstra(startID, endID, accessibilityRequired)
	}
	if ids == nil {
		return []geo.Point{start, end}
	}

	path := make([]geo.Point, 0, len(ids)+2)
	path = append(path, start)
	for _, id := range ids {
		path = append(path, g.nodes[id].Loc)
	}
	path = append(path, end)
	return path
}

// FindPathAvoiding runs FindPath with the given node loads temporarily
// boosted, restoring them before returning regardless of the outcome.
// The dispatcher uses this for single-query hotspot avoidance.
func (g *Graph) FindPathAvoiding(start, end geo.Point, accessibilityRequired bool, alg Algorithm, boosts map[string]float64) []geo.Point {
	restore := make(map[string]float64, len(boosts))
	for id, extra := range boosts {
		if n, ok := g.nodes[id]; ok {
			restore[id] = n.Load
			n.Load += extra
		}
	}
	defer func() {
		for id, prev := range restore {
			g.nodes[id].Load = prev
		}
	}()
	return g.FindPath(start, end, accessibilityRequired, alg)
}

// snap resolves a query endpoint to a node id. The empty id with ok=true
// signals the direct-path fallback; ok=false signals no accessible route.
func (g *Graph) snap(p geo.Point, accessibilityRequired bool) (string, bool) {
	id := g.nearest(p, g.cfg.SnapThreshold, false)
	if id == "" {
		return "", true // direct fallback
	}
	if accessibilityRequired && !g.nodes[id].Accessible {
		id = g.nearest(p, 2*g.cfg.SnapThreshold, true)
		if id == "" {
			return "", false // no accessible route
		}
	}
	return id, true
}

func (g *Graph) nearest(p geo.Point, maxDist float64, accessibleOnly bool) string {
	best := ""
	bestDist := math.Inf(1)
	for _, id := range g.order {
		n := g.nodes[id]
		if accessibleOnly && !n.Accessible {
			continue
		}
		d := geo.Distance(p, n.Loc)
		if d < bestDist {
			bestDist = d
			best = id
		}
	}
	if bestDist > maxDist {
		return ""
	}
	return best
}

// pqItem is a frontier entry. Ties break on id for determinism.
type pqItem struct {
	id       string
	priority float64
}

type frontier []pqItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].priority != f[j].priority {
		return f[i].priority < f[j].priority
	}
	return f[i].id < f[j].id
}
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(pqItem)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// astar searches with a Euclidean heuristic to the goal, inflated by
// the goal node's current congestion factor. Returns the node id path
// excluding the start node, or nil when unreachable.
func (g *Graph) astar(startID, endID string, accessibilityRequired bool) []string {
	goal := g.nodes[endID]
	h := func(id string) float64 {
		return geo.Distance(g.nodes[id].Loc, goal.Loc) * goal.congestionFactor()
	}
	return g.search(startID, endID, accessibilityRequired, h)
}

// dijkstra is the same cost model with a zero heuristic.
func (g *Graph) dijkstra(startID, endID string, accessibilityRequired bool) []string {
	return g.search(startID, endID, accessibilityRequired, func(string) float64 { return 0 })
}

func (g *Graph) search(startID, endID string, accessibilityRequired bool, h func(string) float64) []string {
	if accessibilityRequired && (!g.nodes[startID].Accessible || !g.nodes[endID].Accessible) {
		return nil
	}

	open := &frontier{{id: startID, priority: h(startID)}}
	heap.Init(open)
	gScore := map[string]float64{startID: 0}
	cameFrom := map[string]string{}
	visited := map[string]bool{}

	for open.Len() > 0 {
		cur := heap.Pop(open).(pqItem).id
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == endID {
			return reconstruct(cameFrom, startID, endID)
		}
		for _, e := range g.nodes[cur].neighbors {
			next := g.nodes[e.to]
			if visited[e.to] {
				continue
			}
			if accessibilityRequired && !next.Accessible {
				continue
			}
			// Edge cost inflates with the congestion of the node
			// being entered: distance × (1 + 0.5 × load/capacity).
			tentative := gScore[cur] + e.dist*next.congestionFactor()
			if prev, seen := gScore[e.to]; !seen || tentative < prev {
				gScore[e.to] = tentative
				cameFrom[e.to] = cur
				heap.Push(open, pqItem{id: e.to, priority: tentative + h(e.to)})
			}
		}
	}
	return nil
}

func reconstruct(cameFrom map[string]string, startID, endID string) []string {
	var rev []string
	for at := endID; at != startID; at = cameFrom[at] {
		rev = append(rev, at)
	}
	out := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}
