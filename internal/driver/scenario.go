// Package driver wires a topology and a set of node roles into a
// running simulation, following spec.md §4.7's wiring order: build
// graph, create routers with empty tables, instantiate hosts bound to
// routers via single-degree edges, compute Dijkstra shortest paths,
// install unicast_forwarding_table, register generators, run_until(t).
// The all-pairs latency table is not computed during wiring. Grounded on the teacher's controller.go
// (a thin Controller owning the whole NetworkTypology) generalized from
// a stub into the actual wiring this simulator needs.
package driver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kprusa/servicecast/internal/config"
)

// Kind identifies what role a node plays in the simulation.
type Kind string

const (
	KindRouter Kind = "router"
	KindServer Kind = "server"
	KindClient Kind = "client"
)

// NodeSpec describes one node's role. Router nodes need nothing
// further; Server nodes list the service names they provide; Client
// nodes name the single service they request.
type NodeSpec struct {
	ID       string   `yaml:"id"`
	Kind     Kind     `yaml:"kind"`
	Services []string `yaml:"services,omitempty"` // server only
	Service  string   `yaml:"service,omitempty"`   // client only
}

// EdgeSpec is one undirected link in the adjacency-form topology input
// (spec.md §6).
type EdgeSpec struct {
	A      string  `yaml:"a"`
	B      string  `yaml:"b"`
	Weight float64 `yaml:"weight"`
}

// Scenario is the full wiring input: a topology (either inline edges or
// a GML file path) plus the role of every node and the traffic sources
// to attach to each client/server.
type Scenario struct {
	GMLPath string     `yaml:"gml_path,omitempty"`
	Edges   []EdgeSpec `yaml:"edges,omitempty"`
	Nodes   []NodeSpec `yaml:"nodes"`

	ConfigPath string `yaml:"config_path,omitempty"`

	// Config, when set, is used directly instead of loading ConfigPath —
	// the escape hatch for callers (tests, or code driving a scenario
	// programmatically) that already hold a *config.Config.
	Config *config.Config `yaml:"-"`

	// BackgroundLoad lists servers that should receive a periodic
	// background LoadEvent source on top of their one-time startup
	// registration (spec.md §9's "LoadEvent" contribution).
	BackgroundLoad []string `yaml:"background_load,omitempty"`
}

// LoadScenario reads a YAML scenario description from path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("driver: reading scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("driver: parsing scenario %s: %w", path, err)
	}
	if len(s.Nodes) == 0 {
		return nil, fmt.Errorf("driver: scenario %s declares no nodes", path)
	}
	return &s, nil
}
