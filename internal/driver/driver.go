package driver

import (
	"fmt"
	"os"
	"sort"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/node"
	"github.com/kprusa/servicecast/internal/router"
	"github.com/kprusa/servicecast/internal/sim"
	"github.com/kprusa/servicecast/internal/topo"
	"github.com/kprusa/servicecast/internal/traffic"
)

// Driver owns a fully wired simulation: the scheduler, the topology,
// and every router/server/client built from a Scenario (spec.md §4.7).
type Driver struct {
	Sched   *sim.Scheduler
	Graph   *topo.Graph
	Logger  *logx.Logger
	Metrics *metrics.Metrics
	Config  *config.Config

	Routers map[string]*router.Router
	Servers map[string]*node.Server
	Clients map[string]*node.Client

	generators []*traffic.Generator
	background []*traffic.BackgroundLoad
}

// Build wires a Scenario into a running Driver, following spec.md
// §4.7's order exactly: build graph, create routers with empty tables,
// instantiate hosts bound to routers via single-degree edges, compute
// Dijkstra shortest paths, install unicast_forwarding_table, register
// generators. Grounded on the teacher's controller.go, which owns a
// similarly-shaped Graph+Controller pair, generalized here to also
// build and bind the leaf hosts the teacher's link-state protocol never
// had.
func Build(scenario *Scenario, logger *logx.Logger, m *metrics.Metrics) (*Driver, error) {
	cfg := scenario.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(scenario.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	graph, err := buildGraph(scenario)
	if err != nil {
		return nil, err
	}

	sched := sim.NewScheduler()
	d := &Driver{
		Sched:   sched,
		Graph:   graph,
		Logger:  logger,
		Metrics: m,
		Config:  cfg,
		Routers: make(map[string]*router.Router),
		Servers: make(map[string]*node.Server),
		Clients: make(map[string]*node.Client),
	}

	routerIDs, hostSpecs, err := classifyNodes(scenario, graph)
	if err != nil {
		return nil, err
	}

	// "create routers with empty tables"
	for _, id := range routerIDs {
		d.Routers[id] = router.New(id, sched, cfg, logger, m)
	}

	// "instantiate hosts and bind them to routers via single-degree edges"
	for _, spec := range hostSpecs {
		if graph.Degree(spec.ID) != 1 {
			return nil, fmt.Errorf("driver: host %q must have exactly one edge, has %d", spec.ID, graph.Degree(spec.ID))
		}
		routerID := graph.Neighbors(spec.ID)[0]
		rtr, ok := d.Routers[routerID]
		if !ok {
			return nil, fmt.Errorf("driver: host %q is bound to %q, which is not declared as a router", spec.ID, routerID)
		}

		weight := edgeWeight(graph, spec.ID, routerID)
		hostToRouter := netsim.NewLinkEnd(sched, spec.ID, routerID, weight)
		routerToHost := netsim.NewLinkEnd(sched, routerID, spec.ID, weight)
		hostToRouter.SetDestination(rtr)
		portAtHost := netsim.NewSwitchPort(sched, hostToRouter, 0)
		portAtRouter := netsim.NewSwitchPort(sched, routerToHost, 0)

		switch spec.Kind {
		case KindServer:
			srv := node.NewServer(spec.ID, sched, cfg.Server, spec.Services, logger, m)
			routerToHost.SetDestination(srv)
			srv.SetUpstream(routerID, portAtHost)
			rtr.AddNeighbor(spec.ID, portAtRouter, true)
			d.Servers[spec.ID] = srv
			// Every replica registers itself at startup with a zero-valued
			// background load event (spec.md §8 scenario 1: "s1 announces
			// load=0,flows=0,slots=10"); without this there is no path by
			// which a router ever learns a service exists before its first
			// client request, which Server.Recv alone cannot bootstrap.
			srv.ApplyBackgroundLoad(0, 0, 0)
		case KindClient:
			cl := node.NewClient(spec.ID, sched, spec.Service)
			routerToHost.SetDestination(cl)
			cl.SetUpstream(portAtHost)
			rtr.AddNeighbor(spec.ID, portAtRouter, true)
			d.Clients[spec.ID] = cl
		default:
			return nil, fmt.Errorf("driver: unknown host kind %q for node %q", spec.Kind, spec.ID)
		}
	}

	// router-to-router edges: every edge where both endpoints are routers.
	for _, e := range graph.Edges() {
		a, b, weight := e[0].(string), e[1].(string), e[2].(float64)
		ra, aIsRouter := d.Routers[a]
		rb, bIsRouter := d.Routers[b]
		if !aIsRouter || !bIsRouter {
			continue
		}
		aToB := netsim.NewLinkEnd(sched, a, b, weight)
		bToA := netsim.NewLinkEnd(sched, b, a, weight)
		aToB.SetDestination(rb)
		bToA.SetDestination(ra)
		ra.AddNeighbor(b, netsim.NewSwitchPort(sched, aToB, 0), false)
		rb.AddNeighbor(a, netsim.NewSwitchPort(sched, bToA, 0), false)
	}

	// Compute Dijkstra shortest paths and install each router's
	// unicast_forwarding_table. The all-pairs latency table
	// (graph.AllPairsLatency) is not computed during wiring.
	for id, rtr := range d.Routers {
		table, err := graph.UnicastTable(id)
		if err != nil {
			return nil, fmt.Errorf("driver: computing unicast table for %q: %w", id, err)
		}
		rtr.SetUnicastTable(table)
	}

	d.wireTraffic(scenario)

	return d, nil
}

// wireTraffic registers a traffic.Generator for every client and a
// traffic.BackgroundLoad for every server named in
// scenario.BackgroundLoad ("register generators", spec.md §4.7).
func (d *Driver) wireTraffic(scenario *Scenario) {
	clientIDs := make([]string, 0, len(d.Clients))
	for id := range d.Clients {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)

	for _, id := range clientIDs {
		cl := d.Clients[id]
		gen := traffic.NewGenerator(d.Sched, d.Config.Traffic, func(t, size float64) {
			cl.GenerateRequest(t, size)
		})
		d.generators = append(d.generators, gen)
	}

	for _, id := range scenario.BackgroundLoad {
		srv, ok := d.Servers[id]
		if !ok {
			continue
		}
		bg := traffic.NewBackgroundLoad(d.Sched, d.Config.Traffic, float64(d.Config.Server.Slots), d.Config.Server.Slots, srv.ApplyBackgroundLoad)
		d.background = append(d.background, bg)
	}
}

// NodeKinds returns every node's Kind, keyed by id, for callers (the
// dot exporter, diagnostics) that need to classify nodes without
// reaching into Routers/Servers/Clients directly.
func (d *Driver) NodeKinds() map[string]Kind {
	out := make(map[string]Kind, len(d.Routers)+len(d.Servers)+len(d.Clients))
	for id := range d.Routers {
		out[id] = KindRouter
	}
	for id := range d.Servers {
		out[id] = KindServer
	}
	for id := range d.Clients {
		out[id] = KindClient
	}
	return out
}

// Run starts every registered traffic source and runs the simulation
// up to and including horizon ("run_until(t)", spec.md §4.7/§5).
func (d *Driver) Run(horizon float64) {
	for _, g := range d.generators {
		g.Start()
	}
	for _, b := range d.background {
		b.Start()
	}
	d.Sched.RunUntil(horizon)
}

func buildGraph(scenario *Scenario) (*topo.Graph, error) {
	if scenario.GMLPath != "" {
		f, err := os.Open(scenario.GMLPath)
		if err != nil {
			return nil, fmt.Errorf("driver: opening topology %s: %w", scenario.GMLPath, err)
		}
		defer f.Close()
		return topo.ParseGML(f)
	}

	adj := make(map[string][]topo.Neighbor)
	for _, e := range scenario.Edges {
		adj[e.A] = append(adj[e.A], topo.Neighbor{ID: e.B, Weight: e.Weight})
	}
	return topo.FromAdjacency(adj)
}

// classifyNodes splits a scenario's node list into router ids (sorted,
// for deterministic wiring order) and host specs, failing fast if a
// node name is unknown to the graph or duplicated.
func classifyNodes(scenario *Scenario, graph *topo.Graph) ([]string, []NodeSpec, error) {
	seen := make(map[string]bool)
	var routerIDs []string
	var hosts []NodeSpec

	for _, spec := range scenario.Nodes {
		if seen[spec.ID] {
			return nil, nil, fmt.Errorf("driver: node %q declared more than once", spec.ID)
		}
		seen[spec.ID] = true

		switch spec.Kind {
		case KindRouter:
			routerIDs = append(routerIDs, spec.ID)
		case KindServer:
			if len(spec.Services) == 0 {
				return nil, nil, fmt.Errorf("driver: server %q declares no services", spec.ID)
			}
			hosts = append(hosts, spec)
		case KindClient:
			if spec.Service == "" {
				return nil, nil, fmt.Errorf("driver: client %q declares no service", spec.ID)
			}
			hosts = append(hosts, spec)
		default:
			return nil, nil, fmt.Errorf("driver: node %q has unknown kind %q", spec.ID, spec.Kind)
		}
	}

	for _, id := range graph.Nodes() {
		if !seen[id] {
			return nil, nil, fmt.Errorf("driver: graph node %q has no role in scenario.nodes", id)
		}
	}

	sort.Strings(routerIDs)
	return routerIDs, hosts, nil
}

// edgeWeight returns the propagation delay the graph recorded for the
// edge between a and b.
func edgeWeight(graph *topo.Graph, a, b string) float64 {
	for _, e := range graph.Edges() {
		ea, eb, w := e[0].(string), e[1].(string), e[2].(float64)
		if (ea == a && eb == b) || (ea == b && eb == a) {
			return w
		}
	}
	return 1
}
