package driver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/proto"
)

func newTestDriver(t *testing.T, scenario *Scenario) *Driver {
	t.Helper()
	logger := logx.New(logx.Config{Level: "error"})
	m := metrics.New(prometheus.NewRegistry())
	d, err := Build(scenario, logger, m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return d
}

func request(src, service string, size, t float64, flow string) proto.Packet {
	return proto.NewClientRequest(1, src, service, size, t, flow)
}

// singlePathScenario is spec.md §8 scenario 1: one client, one router,
// one server, one replica.
func singlePathScenario() *Scenario {
	return &Scenario{
		Edges: []EdgeSpec{
			{A: "client1", B: "r1", Weight: 1},
			{A: "r1", B: "srv1", Weight: 1},
		},
		Nodes: []NodeSpec{
			{ID: "client1", Kind: KindClient, Service: "§svc1"},
			{ID: "r1", Kind: KindRouter},
			{ID: "srv1", Kind: KindServer, Services: []string{"§svc1"}},
		},
	}
}

func TestDriver_SinglePath_ServerAnnounceReachesRouter(t *testing.T) {
	d := newTestDriver(t, singlePathScenario())

	// No client traffic needed: a replica registers itself at startup
	// (spec.md §8 scenario 1).
	d.Sched.RunUntil(2)

	neighbour, ok := d.Routers["r1"].ServiceForwarding("§svc1")
	if !ok {
		t.Fatalf("expected r1 to learn a forwarding entry for §svc1")
	}
	if neighbour != "srv1" {
		t.Fatalf("expected forwarding entry to point at srv1, got %q", neighbour)
	}
}

func TestDriver_SinglePath_RequestIsAdmittedAfterForwardingLearned(t *testing.T) {
	d := newTestDriver(t, singlePathScenario())

	d.Sched.RunUntil(2) // let the startup announce reach r1

	d.Clients["client1"].GenerateRequest(2, 5)
	d.Sched.RunUntil(4)

	admitted := testutil.ToFloat64(d.Metrics.RequestsAdmitted.WithLabelValues("srv1"))
	if admitted != 1 {
		t.Fatalf("expected the request to be admitted at srv1, got count=%v", admitted)
	}
}

// twoReplicaScenario is spec.md §8 scenario 2 (load dominates under
// α=1.0): two replicas of the same service reachable through one
// router, at deliberately uneven distances so their startup
// announcements never collide on the same simulated tick.
func twoReplicaScenario() *Scenario {
	cfg := config.DefaultConfig()
	cfg.Utility.Alpha = 1.0 // U = load only, matching spec.md's scenario 2
	return &Scenario{
		Config: cfg,
		Edges: []EdgeSpec{
			{A: "client1", B: "r1", Weight: 1},
			{A: "r1", B: "srvA", Weight: 2},
			{A: "r1", B: "srvB", Weight: 100},
		},
		Nodes: []NodeSpec{
			{ID: "client1", Kind: KindClient, Service: "§svc1"},
			{ID: "r1", Kind: KindRouter},
			{ID: "srvA", Kind: KindServer, Services: []string{"§svc1"}},
			{ID: "srvB", Kind: KindServer, Services: []string{"§svc1"}},
		},
	}
}

func TestDriver_TwoReplicas_LowerLoadReplicaWins(t *testing.T) {
	d := newTestDriver(t, twoReplicaScenario())
	srvA := d.Servers["srvA"]

	// Raise srvA's load to 5 across five distinct integer ticks so each
	// admit crosses change_factor and is actually announced (Invariant
	// SV3 allows only one announcement per tick). Long-held requests
	// (size 1000) so none of them release before the assertion.
	for i, tick := range []float64{1, 2, 3, 4, 5} {
		flow := []string{"fA1", "fA2", "fA3", "fA4", "fA5"}[i]
		at := tick
		d.Sched.After(at, func() {
			srvA.Recv(nil, request("probe", "§svc1", 1000, at, flow))
		})
	}

	// srvB's zero-load startup announcement (delivered at t=100, far
	// past srvA's settled load=5) should now win on pure load.
	d.Sched.RunUntil(110)

	neighbour, ok := d.Routers["r1"].ServiceForwarding("§svc1")
	if !ok {
		t.Fatalf("expected a forwarding entry for §svc1")
	}
	if neighbour != "srvB" {
		t.Fatalf("expected router to prefer the less-loaded replica srvB, got %q", neighbour)
	}
}

// withdrawScenario is spec.md §8 scenario 4: a replica's withdrawal
// must propagate across every router on its reverse unicast tree.
func withdrawScenario() *Scenario {
	return &Scenario{
		Edges: []EdgeSpec{
			{A: "client1", B: "r1", Weight: 1},
			{A: "r1", B: "r2", Weight: 1},
			{A: "r2", B: "srv1", Weight: 1},
		},
		Nodes: []NodeSpec{
			{ID: "client1", Kind: KindClient, Service: "§svc1"},
			{ID: "r1", Kind: KindRouter},
			{ID: "r2", Kind: KindRouter},
			{ID: "srv1", Kind: KindServer, Services: []string{"§svc1"}},
		},
	}
}

func TestDriver_Withdraw_PropagatesAcrossRouters(t *testing.T) {
	d := newTestDriver(t, withdrawScenario())

	d.Sched.RunUntil(3)
	if _, ok := d.Routers["r1"].ServiceForwarding("§svc1"); !ok {
		t.Fatalf("expected r1 to have learned §svc1 via r2 before the withdraw")
	}

	// No node in this simulator emits a raw Withdraw on its own (spec.md
	// §9: server-side Withdraw is an open question with no corpus code
	// path), so the withdrawal is injected directly at r2 as if it
	// arrived from srv1, the same way router_test.go exercises
	// handleWithdraw.
	end := netsim.NewLinkEnd(d.Sched, "srv1", "r2", 1)
	pkt := proto.NewServerLoad(1, "srv1", "r2", "§svc1", "srv1", proto.Withdraw, proto.Payload{}, d.Sched.Now())
	d.Routers["r2"].Recv(end, pkt)

	d.Sched.RunUntil(5)

	if _, ok := d.Routers["r1"].ServiceForwarding("§svc1"); ok {
		t.Fatalf("expected r1's forwarding entry for §svc1 to be withdrawn")
	}
}
