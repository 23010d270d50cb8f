package topo

import "testing"

// chain builds A-B-C-D with weight 1 per link, the "Single path" and
// "Withdraw propagation" scenario topology from spec.md §8.
func chain(t *testing.T) *Graph {
	t.Helper()
	g, err := FromAdjacency(map[string][]Neighbor{
		"A": {{ID: "B", Weight: 1}},
		"B": {{ID: "A", Weight: 1}, {ID: "C", Weight: 1}},
		"C": {{ID: "B", Weight: 1}, {ID: "D", Weight: 1}},
		"D": {{ID: "C", Weight: 1}},
	})
	if err != nil {
		t.Fatalf("FromAdjacency: %v", err)
	}
	return g
}

func TestGraph_UnicastTable_Chain(t *testing.T) {
	g := chain(t)

	table, err := g.UnicastTable("A")
	if err != nil {
		t.Fatalf("UnicastTable: %v", err)
	}

	tests := []struct {
		dest     string
		nextHop  string
		hopCount int
	}{
		{"B", "B", 1},
		{"C", "B", 2},
		{"D", "B", 3},
	}
	for _, tt := range tests {
		route, ok := table[tt.dest]
		if !ok {
			t.Fatalf("no route to %s", tt.dest)
		}
		if route.NextHop != tt.nextHop || route.HopCount != tt.hopCount {
			t.Errorf("route to %s = %+v, want next hop %s hops %d", tt.dest, route, tt.nextHop, tt.hopCount)
		}
	}
}

func TestGraph_LatencyTo_Chain(t *testing.T) {
	g := chain(t)

	got, ok := g.LatencyTo("A", "C")
	if !ok {
		t.Fatalf("LatencyTo(A, C): not ok")
	}
	if got != 2 {
		t.Errorf("LatencyTo(A, C) = %v, want 2", got)
	}
}

func TestGraph_UnicastTable_Square(t *testing.T) {
	// A-B, B-D, A-C, C-D: square with two equal-length paths A->D.
	g, err := FromAdjacency(map[string][]Neighbor{
		"A": {{ID: "B", Weight: 1}, {ID: "C", Weight: 1}},
		"B": {{ID: "A", Weight: 1}, {ID: "D", Weight: 1}},
		"C": {{ID: "A", Weight: 1}, {ID: "D", Weight: 1}},
		"D": {{ID: "B", Weight: 1}, {ID: "C", Weight: 1}},
	})
	if err != nil {
		t.Fatalf("FromAdjacency: %v", err)
	}

	table, err := g.UnicastTable("A")
	if err != nil {
		t.Fatalf("UnicastTable: %v", err)
	}
	route, ok := table["D"]
	if !ok {
		t.Fatalf("no route to D")
	}
	if route.HopCount != 2 {
		t.Errorf("HopCount to D = %d, want 2", route.HopCount)
	}
	if route.NextHop != "B" && route.NextHop != "C" {
		t.Errorf("NextHop to D = %q, want B or C", route.NextHop)
	}
}

func TestGraph_AddEdge_UnknownNode(t *testing.T) {
	g := newGraph()
	g.AddNode("A")
	if err := g.AddEdge("A", "Z", 1); err == nil {
		t.Fatalf("AddEdge with unknown node should fail")
	}
}

func TestGraph_AddEdge_Duplicate(t *testing.T) {
	g := newGraph()
	g.AddNode("A")
	g.AddNode("B")
	if err := g.AddEdge("A", "B", 5); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge("A", "B", 99); err != nil {
		t.Fatalf("AddEdge (duplicate): %v", err)
	}
	if got, _ := g.LatencyTo("A", "B"); got != 5 {
		t.Errorf("duplicate AddEdge changed weight: got %v, want 5", got)
	}
}

func TestGraph_Neighbors(t *testing.T) {
	g := chain(t)
	got := g.Neighbors("B")
	want := []string{"A", "C"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Neighbors(B) = %v, want %v", got, want)
	}
}
