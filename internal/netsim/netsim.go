// Package netsim models the per-neighbor transmit queue and the
// propagation-delayed link it feeds (spec.md §4.1, C3/C4). Both are
// grounded on the teacher's link.go LinkEnd type, generalized from a
// single HELLO/DATA/TC wire format to the proto.Packet used throughout
// this simulator, and the original SwitchPort/LinkEnd pairing in
// original_source/Link.py.
package netsim

import (
	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
)

// Receiver is anything that can accept a delivered packet from a
// LinkEnd: routers, servers, and clients all implement it.
type Receiver interface {
	Recv(end *LinkEnd, pkt proto.Packet)
}

// LinkEnd is a directed edge carrying one frame with a fixed
// propagation delay (spec.md C3). An undirected link is two opposing
// LinkEnds, exactly as in the teacher's topology.
type LinkEnd struct {
	sched             *sim.Scheduler
	propagationDelay  float64
	srcNodeID         string
	dstNodeID         string
	dst               Receiver
}

// NewLinkEnd builds one direction of a link. dst is resolved lazily via
// SetDestination because routers, servers, and their ports are wired up
// before the full node graph exists.
func NewLinkEnd(sched *sim.Scheduler, srcNodeID, dstNodeID string, propagationDelay float64) *LinkEnd {
	return &LinkEnd{sched: sched, srcNodeID: srcNodeID, dstNodeID: dstNodeID, propagationDelay: propagationDelay}
}

// SetDestination binds the node object that will receive delivered
// packets. Must be called before any Put.
func (e *LinkEnd) SetDestination(dst Receiver) { e.dst = dst }

// SrcNodeID is the id of the node this LinkEnd originates from — the
// node the router's loop-avoidance check (spec.md §4.6, Invariant L1)
// compares unicast next-hops against.
func (e *LinkEnd) SrcNodeID() string { return e.srcNodeID }

// DstNodeID is the id of the node at the far end of this LinkEnd.
func (e *LinkEnd) DstNodeID() string { return e.dstNodeID }

// PropagationDelay is the fixed simulated-time cost of traversing this
// link end.
func (e *LinkEnd) PropagationDelay() float64 { return e.propagationDelay }

// Put schedules delivery of pkt to the destination node after
// PropagationDelay simulated-time units, FIFO per link (spec.md §5).
func (e *LinkEnd) Put(pkt proto.Packet) {
	dst := e.dst
	end := e
	e.sched.After(e.propagationDelay, func() {
		if dst != nil {
			dst.Recv(end, pkt)
		}
	})
}

// SwitchPort is the per-neighbor transmit queue (C4): it imposes a
// serialization delay of size/rate before handing a packet to its
// attached LinkEnd, one shared transmit slot per port, strictly FIFO.
type SwitchPort struct {
	sched *sim.Scheduler
	out   *LinkEnd
	rate  float64 // bytes (or abstract size units) per simulated second; 0 = unlimited

	limitPackets int // 0 = unlimited
	limitBytes   int // 0 = unlimited
	queuedPkts   int
	queuedBytes  int

	busyUntil float64
}

// NewSwitchPort builds a port feeding out at the given rate (size units
// per simulated second). txRate<=0 means unlimited serialization — the
// core's default (spec.md §4.1: "0 when rate is effectively infinite").
func NewSwitchPort(sched *sim.Scheduler, out *LinkEnd, txRate float64) *SwitchPort {
	return &SwitchPort{sched: sched, out: out, rate: txRate}
}

// SetLimits caps the number of packets and/or bytes this port will hold
// queued at once; 0 disables a given limit. The core leaves both
// disabled (spec.md §4.1: "in the core, limits are disabled").
func (p *SwitchPort) SetLimits(maxPackets, maxBytes int) {
	p.limitPackets = maxPackets
	p.limitBytes = maxBytes
}

// Put enqueues pkt for transmission. Packets are serialized strictly
// FIFO: each packet's transmission starts no earlier than the previous
// one finished, emulating one shared transmit slot per port.
func (p *SwitchPort) Put(pkt proto.Packet) bool {
	if p.limitPackets > 0 && p.queuedPkts >= p.limitPackets {
		return false
	}
	if p.limitBytes > 0 && p.queuedBytes+int(pkt.Size) > p.limitBytes {
		return false
	}
	p.queuedPkts++
	p.queuedBytes += int(pkt.Size)

	serialization := 0.0
	if p.rate > 0 {
		serialization = pkt.Size / p.rate
	}

	start := p.sched.Now()
	if p.busyUntil > start {
		start = p.busyUntil
	}
	finish := start + serialization
	p.busyUntil = finish

	wait := finish - p.sched.Now()
	p.sched.After(wait, func() {
		p.queuedPkts--
		p.queuedBytes -= int(pkt.Size)
		p.out.Put(pkt)
	})
	return true
}

// Out returns the LinkEnd this port feeds.
func (p *SwitchPort) Out() *LinkEnd { return p.out }
