// Package topo builds the weighted network graph and derives, once at
// startup, the per-router unicast forwarding table and the all-pairs
// propagation-delay latency table that the rest of the simulator
// treats as read-only (spec.md §4.2).
package topo

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Neighbor is one entry of an adjacency list: a node reachable directly
// from another, with the propagation delay (weight) of that link.
type Neighbor struct {
	ID     string
	Weight float64
}

// Route is one row of a unicast forwarding table: to reach Dest, send
// to NextHop; the path is HopCount hops long.
type Route struct {
	Dest     string
	NextHop  string
	HopCount int
}

// Graph is an undirected weighted network topology. IDs are arbitrary
// strings (node.go and router.go never assume numeric identity); gonum
// requires int64 node IDs internally, so Graph keeps the label<->id
// mapping private.
type Graph struct {
	weighted *simple.WeightedUndirectedGraph // real propagation delays
	hops     *simple.WeightedUndirectedGraph // every edge weight 1, for hop-count Dijkstra

	ids    map[string]int64
	labels map[int64]string
	meta   map[string]map[string]string
}

func newGraph() *Graph {
	return &Graph{
		weighted: simple.NewWeightedUndirectedGraph(0, 0),
		hops:     simple.NewWeightedUndirectedGraph(0, 0),
		ids:      make(map[string]int64),
		labels:   make(map[int64]string),
		meta:     make(map[string]map[string]string),
	}
}

// AddNode registers a node id if it isn't already present.
func (g *Graph) AddNode(id string) {
	if _, ok := g.ids[id]; ok {
		return
	}
	n := int64(len(g.ids))
	g.ids[id] = n
	g.labels[n] = id
	g.weighted.AddNode(simple.Node(n))
	g.hops.AddNode(simple.Node(n))
}

// AddEdge adds an undirected edge between a and b with the given
// propagation delay. Both endpoints must already exist (AddNode first).
// Adding the same edge twice is a no-op (matches the teacher's
// contains_edge guard against duplicate links).
func (g *Graph) AddEdge(a, b string, weight float64) error {
	ua, ok := g.ids[a]
	if !ok {
		return fmt.Errorf("topo: unknown node %q", a)
	}
	ub, ok := g.ids[b]
	if !ok {
		return fmt.Errorf("topo: unknown node %q", b)
	}
	if g.weighted.HasEdgeBetween(ua, ub) {
		return nil
	}
	g.weighted.SetWeightedEdge(g.weighted.NewWeightedEdge(simple.Node(ua), simple.Node(ub), weight))
	g.hops.SetWeightedEdge(g.hops.NewWeightedEdge(simple.Node(ua), simple.Node(ub), 1))
	return nil
}

// Nodes returns all node labels in a stable, sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetNodeMeta attaches free-form metadata (e.g. a GML "label" field) to
// a node. Never consulted by routing logic, and not read by
// internal/dot's rendering either.
func (g *Graph) SetNodeMeta(id, key, value string) {
	m, ok := g.meta[id]
	if !ok {
		m = make(map[string]string)
		g.meta[id] = m
	}
	m[key] = value
}

// NodeMeta returns the metadata attached to id, or nil.
func (g *Graph) NodeMeta(id string) map[string]string { return g.meta[id] }

// FromAdjacency builds a Graph from a programmatic adjacency dictionary,
// the first of the two topology input forms in spec.md §6. A missing
// weight defaults to 1 (Neighbor.Weight == 0 is treated as unset).
func FromAdjacency(adj map[string][]Neighbor) (*Graph, error) {
	g := newGraph()
	for id := range adj {
		g.AddNode(id)
	}
	for from, neighbors := range adj {
		for _, n := range neighbors {
			g.AddNode(n.ID)
			w := n.Weight
			if w == 0 {
				w = 1
			}
			if err := g.AddEdge(from, n.ID, w); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// UnicastTable runs Dijkstra from source over hop-count (every edge
// weight 1, per spec.md §4.2) and returns the resulting forwarding
// table: for every other reachable node, the next hop and hop count
// along the shortest (by hop count) path.
func (g *Graph) UnicastTable(source string) (map[string]Route, error) {
	src, ok := g.ids[source]
	if !ok {
		return nil, fmt.Errorf("topo: unknown source %q", source)
	}
	shortest := path.DijkstraFrom(simple.Node(src), g.hops)

	table := make(map[string]Route)
	for label, id := range g.ids {
		if id == src {
			continue
		}
		nodes, weight := shortest.To(id)
		if len(nodes) < 2 {
			continue // unreachable
		}
		nextHop := g.labels[nodes[1].ID()]
		table[label] = Route{Dest: label, NextHop: nextHop, HopCount: int(weight)}
	}
	return table, nil
}

// LatencyTo sums the real propagation delays along the hop-count
// shortest path from source to dest (spec.md §4.2: "sum of
// propagation_delays along the same shortest path"). It does not
// re-run Dijkstra with real weights — the path is fixed by hop count.
func (g *Graph) LatencyTo(source, dest string) (float64, bool) {
	src, ok := g.ids[source]
	if !ok {
		return 0, false
	}
	dst, ok := g.ids[dest]
	if !ok {
		return 0, false
	}
	if src == dst {
		return 0, true
	}
	shortest := path.DijkstraFrom(simple.Node(src), g.hops)
	nodes, _ := shortest.To(dst)
	if len(nodes) < 2 {
		return 0, false
	}
	var total float64
	for i := 0; i+1 < len(nodes); i++ {
		we := g.weighted.WeightedEdge(nodes[i].ID(), nodes[i+1].ID())
		if we == nil {
			return 0, false
		}
		total += we.Weight()
	}
	return total, true
}

// AllPairsLatency computes the full latency table once, up front, as
// spec.md §4.2 describes: "shared state consulted by servers and
// observers for utility calculations; it is read-only after setup."
func (g *Graph) AllPairsLatency() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(g.ids))
	for _, src := range g.Nodes() {
		row := make(map[string]float64, len(g.ids))
		for _, dst := range g.Nodes() {
			if d, ok := g.LatencyTo(src, dst); ok {
				row[dst] = d
			}
		}
		out[src] = row
	}
	return out
}

// Degree returns the number of neighbors of id.
func (g *Graph) Degree(id string) int {
	n, ok := g.ids[id]
	if !ok {
		return 0
	}
	return g.weighted.From(n).Len()
}

// Neighbors returns the ids of nodes directly connected to id, in a
// stable sorted order.
func (g *Graph) Neighbors(id string) []string {
	n, ok := g.ids[id]
	if !ok {
		return nil
	}
	it := g.weighted.From(n)
	out := make([]string, 0, it.Len())
	for it.Next() {
		out = append(out, g.labels[it.Node().ID()])
	}
	sort.Strings(out)
	return out
}

// Edges returns every undirected edge once, as (a, b, weight) with
// a < b lexically, for deterministic iteration (used by internal/dot).
func (g *Graph) Edges() [][3]any {
	seen := make(map[[2]int64]bool)
	var out [][3]any
	edges := g.weighted.Edges()
	for edges.Next() {
		e := edges.Edge()
		we, ok := e.(graph.WeightedEdge)
		if !ok {
			continue
		}
		u, v := e.From().ID(), e.To().ID()
		if u > v {
			u, v = v, u
		}
		key := [2]int64{u, v}
		if seen[key] {
			continue
		}
		seen[key] = true
		a, b := g.labels[u], g.labels[v]
		if a > b {
			a, b = b, a
		}
		out = append(out, [3]any{a, b, we.Weight()})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i][0].(string), out[j][0].(string)
		if ai != aj {
			return ai < aj
		}
		return out[i][1].(string) < out[j][1].(string)
	})
	return out
}
