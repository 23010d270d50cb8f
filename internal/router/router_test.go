package router

import (
	"testing"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
	"github.com/kprusa/servicecast/internal/topo"
	"github.com/prometheus/client_golang/prometheus"
)

// recorder is a netsim.Receiver test double that records every packet
// it is handed.
type recorder struct {
	pkts []proto.Packet
}

func (r *recorder) Recv(_ *netsim.LinkEnd, pkt proto.Packet) {
	r.pkts = append(r.pkts, pkt)
}

func newTestRouter(t *testing.T, id string) (*Router, *sim.Scheduler) {
	t.Helper()
	sched := sim.NewScheduler()
	cfg := config.DefaultConfig()
	logger := logx.New(logx.Config{Level: "error"})
	m := metrics.New(prometheus.NewRegistry())
	return New(id, sched, cfg, logger, m), sched
}

// connectNeighbor wires an outgoing port from r to a recorder standing
// in for the neighbour node, returning the recorder.
func connectNeighbor(sched *sim.Scheduler, r *Router, neighbourID string, isHost bool) *recorder {
	rec := &recorder{}
	end := netsim.NewLinkEnd(sched, r.ID(), neighbourID, 1.0)
	end.SetDestination(rec)
	port := netsim.NewSwitchPort(sched, end, 0)
	r.AddNeighbor(neighbourID, port, isHost)
	return rec
}

func announcePacket(seq uint64, src, dst, service, replica string, load, delay float64, flows, slots int, createdAt float64) proto.Packet {
	return proto.NewServerLoad(seq, src, dst, service, replica, proto.Announce,
		proto.Payload{Load: load, NoOfFlows: flows, Delay: delay, Slots: slots}, createdAt)
}

func withdrawPacket(seq uint64, src, dst, service, replica string, createdAt float64) proto.Packet {
	return proto.NewServerLoad(seq, src, dst, service, replica, proto.Withdraw, proto.Payload{}, createdAt)
}

func TestRouter_Classifier_DropsUnknownService(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	rec := connectNeighbor(sched, r, "core", false)

	pkt := proto.NewClientRequest(1, "client", "§svc", 100, 0, "flow1")
	r.Recv(netsim.NewLinkEnd(sched, "client", "R", 1.0), pkt)

	if len(rec.pkts) != 0 {
		t.Fatalf("expected no forwarding for unknown service, got %v", rec.pkts)
	}
}

func TestRouter_Classifier_ForwardsServiceRequest(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	rec := connectNeighbor(sched, r, "core", false)
	r.serviceForwarding["§svc"] = "core"

	pkt := proto.NewClientRequest(1, "client", "§svc", 100, 0, "flow1")
	r.Recv(netsim.NewLinkEnd(sched, "client", "R", 1.0), pkt)
	sched.RunUntil(100)

	if len(rec.pkts) != 1 {
		t.Fatalf("expected 1 forwarded packet, got %d", len(rec.pkts))
	}
}

func TestRouter_Classifier_UnicastForward_HostTrap(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	hostRec := connectNeighbor(sched, r, "hostA", true)
	r.unicast["hostB"] = topo.Route{Dest: "hostB", NextHop: "hostA", HopCount: 1}

	pkt := proto.NewUnicast(1, "X", "hostB", 10, 0, "flow1")
	r.Recv(netsim.NewLinkEnd(sched, "core", "R", 1.0), pkt)
	sched.RunUntil(10)

	if len(hostRec.pkts) != 0 {
		t.Fatalf("expected host-trap to drop packet not addressed to hostA, got %v", hostRec.pkts)
	}
}

func TestRouter_Classifier_UnicastForward_AllowsAddressedHost(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	hostRec := connectNeighbor(sched, r, "hostA", true)
	r.unicast["hostA"] = topo.Route{Dest: "hostA", NextHop: "hostA", HopCount: 1}

	pkt := proto.NewUnicast(1, "X", "hostA", 10, 0, "flow1")
	r.Recv(netsim.NewLinkEnd(sched, "core", "R", 1.0), pkt)
	sched.RunUntil(10)

	if len(hostRec.pkts) != 1 {
		t.Fatalf("expected packet addressed to hostA to be delivered, got %v", hostRec.pkts)
	}
}

func TestRouter_Announce_SinglePath(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}

	end := netsim.NewLinkEnd(sched, "server", "R", 1.0)
	pkt := announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0)
	r.handleServerLoad(end, pkt)
	sched.RunUntil(10)

	if len(coreRec.pkts) != 1 {
		t.Fatalf("expected announce forwarded to core, got %d", len(coreRec.pkts))
	}
	if coreRec.pkts[0].Operation != proto.Announce {
		t.Fatalf("expected Announce, got %v", coreRec.pkts[0].Operation)
	}
	if neighbour, ok := r.ServiceForwarding("§svc"); !ok || neighbour != "server" {
		t.Fatalf("expected service forwarding to point at server, got %v %v", neighbour, ok)
	}
}

func TestRouter_Announce_LoopAvoidanceDropsOffTreeAnnounce(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	// unicast route to replica1 goes via "server", not "otherNeighbour".
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}

	end := netsim.NewLinkEnd(sched, "otherNeighbour", "R", 1.0)
	pkt := announcePacket(1, "otherNeighbour", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0)
	r.handleServerLoad(end, pkt)
	sched.RunUntil(10)

	if len(coreRec.pkts) != 0 {
		t.Fatalf("expected announce off the reverse tree to be dropped, got %v", coreRec.pkts)
	}
	if len(r.rib.rows) != 0 {
		t.Fatalf("expected no RIB row for a dropped announce")
	}
}

func TestRouter_Announce_ParetoDominance(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "serverA", HopCount: 1}
	r.unicast["replica2"] = topo.Route{Dest: "replica2", NextHop: "serverB", HopCount: 1}

	endA := netsim.NewLinkEnd(sched, "serverA", "R", 1.0)
	endB := netsim.NewLinkEnd(sched, "serverB", "R", 1.0)

	// replica1 dominates replica2 on both load and delay.
	r.handleServerLoad(endA, announcePacket(1, "serverA", "R", "§svc", "replica1", 1.0, 1.0, 1, 10, 0))
	r.handleServerLoad(endB, announcePacket(2, "serverB", "R", "§svc", "replica2", 5.0, 5.0, 1, 10, 1))
	sched.RunUntil(10)

	var announced, withdrawn int
	for _, p := range coreRec.pkts {
		if p.Operation == proto.Announce {
			announced++
		} else {
			withdrawn++
		}
	}
	if announced != 1 {
		t.Fatalf("expected exactly 1 announce (the dominating replica), got %d: %v", announced, coreRec.pkts)
	}
	if withdrawn != 0 {
		t.Fatalf("expected no withdrawal (dominated replica was never announced), got %d", withdrawn)
	}
}

func TestRouter_Withdraw_PropagatesAndRemovesRow(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}

	end := netsim.NewLinkEnd(sched, "server", "R", 1.0)
	r.handleServerLoad(end, announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0))
	sched.RunUntil(10)
	if len(coreRec.pkts) != 1 {
		t.Fatalf("setup: expected announce to be forwarded, got %d", len(coreRec.pkts))
	}

	r.handleServerLoad(end, withdrawPacket(2, "server", "R", "§svc", "replica1", 1))
	sched.RunUntil(20)

	if len(coreRec.pkts) != 2 || coreRec.pkts[1].Operation != proto.Withdraw {
		t.Fatalf("expected withdraw forwarded to core, got %v", coreRec.pkts)
	}
	if len(r.rib.rows) != 0 {
		t.Fatalf("expected RIB row removed after withdraw, rows=%v", r.rib.rows)
	}
	if _, ok := r.ServiceForwarding("§svc"); ok {
		t.Fatalf("expected stale service forwarding entry cleared after last replica withdrawn (Invariant F1)")
	}
}

func TestRouter_Withdraw_NeverSentBackToArrivalLink(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	serverEnd := netsim.NewLinkEnd(sched, "server", "R", 1.0)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}

	serverRec := &recorder{}
	serverEnd.SetDestination(serverRec)
	serverPort := netsim.NewSwitchPort(sched, serverEnd, 0)
	r.AddNeighbor("server", serverPort, true)
	coreRec := connectNeighbor(sched, r, "core", false)

	r.handleServerLoad(serverEnd, announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0))
	sched.RunUntil(10)

	// A genuine Withdraw for replica1 can only arrive via the reverse
	// tree, i.e. from "server" (the loop-avoidance check enforces this).
	// It must propagate to "core" but never back onto the arrival link.
	r.handleServerLoad(serverEnd, withdrawPacket(2, "server", "R", "§svc", "replica1", 1))
	sched.RunUntil(20)

	for _, p := range serverRec.pkts {
		if p.Operation == proto.Withdraw {
			t.Fatalf("withdraw should never be re-sent back to the link it arrived on")
		}
	}
	found := false
	for _, p := range coreRec.pkts {
		if p.Operation == proto.Withdraw {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected withdraw propagated to core, got %v", coreRec.pkts)
	}
}

func TestRouter_Damping_SuppressesSmallUtilityChange(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	_ = connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}
	end := netsim.NewLinkEnd(sched, "server", "R", 1.0)

	r.handleServerLoad(end, announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 0, 1, 10, 0))
	sched.RunUntil(10)
	neighbour, _ := r.ServiceForwarding("§svc")
	utilBefore := r.bestUtility["§svc"]

	// A tiny load change (below the default 0.1 damping threshold) must
	// not flip the forwarding entry or recorded utility.
	r.handleServerLoad(end, announcePacket(2, "server", "R", "§svc", "replica1", 2.01, 0, 1, 10, 1))
	sched.RunUntil(10)

	if got, _ := r.ServiceForwarding("§svc"); got != neighbour {
		t.Fatalf("expected forwarding entry unchanged under damping, got %v", got)
	}
	if r.bestUtility["§svc"] != utilBefore {
		t.Fatalf("expected recorded utility unchanged under damping")
	}
}

func TestRouter_SentTable_MarkedRowAlwaysResent(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}
	end := netsim.NewLinkEnd(sched, "server", "R", 1.0)

	r.handleServerLoad(end, announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0))
	sched.RunUntil(10)
	// Any update to a row already in the sent table is "marked" and must
	// be re-sent regardless of whether the decision phase alone would
	// have re-emitted it (spec.md §4.6.1).
	r.handleServerLoad(end, announcePacket(2, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0))
	sched.RunUntil(20)

	announced := 0
	for _, p := range coreRec.pkts {
		if p.Operation == proto.Announce {
			announced++
		}
	}
	if announced != 2 {
		t.Fatalf("expected marked row to be resent on every update, got %d announces", announced)
	}
}

func TestRouter_Announce_NewRowNotInSentTableSendsOnlyOnce(t *testing.T) {
	r, sched := newTestRouter(t, "R")
	coreRec := connectNeighbor(sched, r, "core", false)
	r.unicast["replica1"] = topo.Route{Dest: "replica1", NextHop: "server", HopCount: 1}
	end := netsim.NewLinkEnd(sched, "server", "R", 1.0)

	r.handleServerLoad(end, announcePacket(1, "server", "R", "§svc", "replica1", 2.0, 1.0, 1, 10, 0))
	sched.RunUntil(10)

	announced := 0
	for _, p := range coreRec.pkts {
		if p.Operation == proto.Announce {
			announced++
		}
	}
	if announced != 1 {
		t.Fatalf("expected exactly one announce for a brand new row, got %d", announced)
	}
}
