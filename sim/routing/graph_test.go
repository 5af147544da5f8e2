package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

var (
	ptS = geo.Point{X: 0.1, Y: 0.5}
	ptE = geo.Point{X: 0.9, Y: 0.5}
	ptM = geo.Point{X: 0.5, Y: 0.52} // near-direct midpoint
	ptD = geo.Point{X: 0.5, Y: 0.8}  // detour
)

// corridorGraph builds S-M-E with a detour D. k=2 keeps S and E from
// connecting directly, so every route is a two-hop choice between M
// and D.
func corridorGraph() *Graph {
	g := NewGraph(Config{NearestNeighbors: 2, SnapThreshold: 0.1})
	g.AddNode("S", ptS, "venue", true, 100)
	g.AddNode("E", ptE, "venue", true, 100)
	g.AddNode("M", ptM, "intersection", true, 10)
	g.AddNode("D", ptD, "intersection", true, 100)
	g.Connect()
	return g
}

func pathContains(path []geo.Point, p geo.Point) bool {
	for _, wp := range path {
		if wp == p {
			return true
		}
	}
	return false
}

func TestFindPath_AStarMatchesDijkstra_UniformLoad(t *testing.T) {
	// GIVEN a corridor graph with zero load everywhere
	g := corridorGraph()

	// WHEN both algorithms route S -> E
	astar := g.FindPath(ptS, ptE, false, AlgorithmAStar)
	dijkstra := g.FindPath(ptS, ptE, false, AlgorithmDijkstra)

	// THEN they agree, and both take the shorter midpoint hop
	require.NotNil(t, astar)
	assert.Equal(t, dijkstra, astar)
	assert.True(t, pathContains(astar, ptM), "uniform load must route through the midpoint")
	assert.False(t, pathContains(astar, ptD))

	// Endpoints frame the waypoint list.
	assert.Equal(t, ptS, astar[0])
	assert.Equal(t, ptE, astar[len(astar)-1])
}

func TestFindPath_ReroutesAroundOverloadedNode(t *testing.T) {
	// GIVEN the midpoint node loaded to twice its capacity
	g := corridorGraph()
	g.UpdateNodeLoad("M", 20) // capacity 10: congestion factor 2.0

	// WHEN routing S -> E
	path := g.FindPath(ptS, ptE, false, AlgorithmAStar)

	// THEN the congested midpoint is avoided in favor of the detour
	require.NotNil(t, path)
	assert.True(t, pathContains(path, ptD), "overload must push the route onto the detour")
	assert.False(t, pathContains(path, ptM))

	// AND Dijkstra agrees on the rerouted corridor
	assert.Equal(t, g.FindPath(ptS, ptE, false, AlgorithmDijkstra), path)
}

func TestFindPath_SnapFallbackToDirectPath(t *testing.T) {
	// GIVEN endpoints farther than the snap threshold from any node
	g := corridorGraph()
	farA := geo.Point{X: 0.05, Y: 0.05}
	farB := geo.Point{X: 0.95, Y: 0.95}

	// WHEN routing between them
	path := g.FindPath(farA, farB, false, AlgorithmAStar)

	// THEN the query degrades to the direct two-point path
	assert.Equal(t, []geo.Point{farA, farB}, path)
}

func TestFindPath_SameSnappedNode(t *testing.T) {
	g := corridorGraph()
	a := geo.Point{X: 0.11, Y: 0.5}
	b := geo.Point{X: 0.09, Y: 0.5}

	// Both endpoints snap to S: direct hop, no graph traversal.
	path := g.FindPath(a, b, false, AlgorithmAStar)
	assert.Equal(t, []geo.Point{a, b}, path)
}

func TestFindPath_AccessibilityRerouting(t *testing.T) {
	// GIVEN an inaccessible midpoint and an accessible detour
	g := NewGraph(Config{NearestNeighbors: 2, SnapThreshold: 0.1})
	g.AddNode("S", ptS, "venue", true, 100)
	g.AddNode("E", ptE, "venue", true, 100)
	g.AddNode("M", ptM, "intersection", false, 100)
	g.AddNode("D", ptD, "intersection", true, 100)
	g.Connect()

	// WHEN an accessibility-required query routes S -> E
	path := g.FindPath(ptS, ptE, true, AlgorithmAStar)

	// THEN the inaccessible node is excluded from the traversal
	require.NotNil(t, path)
	assert.False(t, pathContains(path, ptM))
}

func TestFindPath_NoAccessibleSnapReportsNoRoute(t *testing.T) {
	// GIVEN a start area whose only nodes are inaccessible
	g := NewGraph(Config{NearestNeighbors: 1, SnapThreshold: 0.05})
	g.AddNode("gate", geo.Point{X: 0.1, Y: 0.1}, "venue", false, 100)
	g.AddNode("far", geo.Point{X: 0.9, Y: 0.9}, "venue", true, 100)
	g.Connect()

	// WHEN a wheelchair query starts at the inaccessible gate
	path := g.FindPath(geo.Point{X: 0.1, Y: 0.1}, geo.Point{X: 0.9, Y: 0.9}, true, AlgorithmAStar)

	// THEN the caller sees "no route", not a crash and not a direct path
	assert.Nil(t, path)
}

func TestFindPathAvoiding_RestoresLoads(t *testing.T) {
	// GIVEN a temporary boost on the midpoint
	g := corridorGraph()

	path := g.FindPathAvoiding(ptS, ptE, false, AlgorithmAStar, map[string]float64{"M": 50})

	// THEN the boost pushed the route away and the load was restored
	assert.True(t, pathContains(path, ptD))
	assert.Equal(t, 0.0, g.Node("M").Load)

	// A follow-up query sees the original corridor again.
	assert.True(t, pathContains(g.FindPath(ptS, ptE, false, AlgorithmAStar), ptM))
}

func TestConnect_DeterministicNeighbors(t *testing.T) {
	// Two identically built graphs must produce identical edge sets.
	a, b := corridorGraph(), corridorGraph()
	for _, n := range a.Nodes() {
		other := b.Node(n.ID)
		require.NotNil(t, other)
		require.Equal(t, len(n.neighbors), len(other.neighbors), "node %s", n.ID)
		for i := range n.neighbors {
			assert.Equal(t, n.neighbors[i].to, other.neighbors[i].to)
		}
	}
}

func TestUpdateNodeLoad_UnknownIDIgnored(t *testing.T) {
	g := corridorGraph()
	g.UpdateNodeLoad("ghost", 99) // must not panic
	assert.Nil(t, g.Node("ghost"))
}
