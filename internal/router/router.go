// Package router implements the service-anycast routing core (spec.md
// §4.5–§4.6): the packet classifier, the ServerLoad Announce/Withdraw
// handler with its Pareto-maximal announce-set computation and
// sent-table bookkeeping, and the damped service forwarding table.
// Grounded on original_source/Router.py for structure and naming, with
// the Pareto delta/withdraw algorithm built to spec.md's letter since
// Router.py itself never emits a Withdraw.
package router

import (
	"math"
	"sort"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
	"github.com/kprusa/servicecast/internal/topo"
)

// metricSpec is one comparator in the metric list M (spec.md §4.6.1):
// M = [("load", <), ("delay", <)], kept as a slice of plugable
// extractors rather than hardcoded fields so a future metric can be
// added without touching the Pareto logic itself.
type metricSpec struct {
	name string
	get  func(*Row) float64
}

var defaultMetrics = []metricSpec{
	{"load", func(r *Row) float64 { return r.Load }},
	{"delay", func(r *Row) float64 { return r.Delay }},
}

// UtilityFunc computes the forwarding utility of a candidate replica
// row; the default is U = alpha*load + (1-alpha)*delay (spec.md
// §4.6.3).
type UtilityFunc func(alpha, load, delay float64) float64

// DefaultUtility is the plugable default from spec.md §4.6.3.
func DefaultUtility(alpha, load, delay float64) float64 {
	return alpha*load + (1-alpha)*delay
}

// Router is one service-anycast router: it owns a RIB, a sent table,
// and a damped service forwarding table, and classifies every arriving
// packet per spec.md §4.5.
type Router struct {
	id      string
	sched   *sim.Scheduler
	logger  *logx.Logger
	metrics *metrics.Metrics
	cfg     *config.Config

	outgoingOrder []string // neighbour id -> insertion order, for deterministic dispatch
	outgoing      map[string]*netsim.SwitchPort
	hostNeighbors map[string]bool // neighbour id -> true if far end is a Host (spec.md §4.5 host-trap)

	unicast map[string]topo.Route // dst node id -> route, installed once at wiring time

	rib  *rib
	sent sentTable
	seq  uint64

	serviceForwarding map[string]string // service name -> neighbour id
	bestUtility       map[string]float64

	utility       UtilityFunc
	metricList    []metricSpec
	alpha         float64
	dampingFactor float64
}

// New builds a Router with empty tables (spec.md §4.7: "create routers
// with empty tables"). unicast and outgoing ports are installed
// separately once the topology and wiring are known.
func New(id string, sched *sim.Scheduler, cfg *config.Config, logger *logx.Logger, m *metrics.Metrics) *Router {
	return &Router{
		id:                id,
		sched:             sched,
		logger:            logger,
		metrics:           m,
		cfg:               cfg,
		outgoing:          make(map[string]*netsim.SwitchPort),
		hostNeighbors:     make(map[string]bool),
		unicast:           make(map[string]topo.Route),
		rib:               newRIB(),
		sent:              make(sentTable),
		serviceForwarding: make(map[string]string),
		bestUtility:       make(map[string]float64),
		utility:           DefaultUtility,
		metricList:        defaultMetrics,
		alpha:             cfg.Utility.Alpha,
		dampingFactor:     cfg.Router.ForwardingUtilityChangeFactor,
	}
}

// ID returns the router's node id.
func (r *Router) ID() string { return r.id }

// AddNeighbor wires an outgoing switch port to neighbour id. isHost
// marks the far end as a Host-class node, consulted by the loop/host-
// trap checks in spec.md §4.5 and §4.6.1.
func (r *Router) AddNeighbor(id string, port *netsim.SwitchPort, isHost bool) {
	if _, exists := r.outgoing[id]; !exists {
		r.outgoingOrder = append(r.outgoingOrder, id)
	}
	r.outgoing[id] = port
	r.hostNeighbors[id] = isHost
}

// SetUnicastTable installs the router's unicast forwarding table,
// computed once at startup by the driver (spec.md §4.2/§4.7).
func (r *Router) SetUnicastTable(table map[string]topo.Route) {
	r.unicast = table
}

// SetUtility overrides the default forwarding utility function.
func (r *Router) SetUtility(fn UtilityFunc) { r.utility = fn }

// ServiceForwarding returns the neighbour this router currently
// forwards requests for service to, and whether one exists.
func (r *Router) ServiceForwarding(service string) (string, bool) {
	n, ok := r.serviceForwarding[service]
	return n, ok
}

// Recv implements netsim.Receiver: the packet classifier of spec.md
// §4.5.
func (r *Router) Recv(end *netsim.LinkEnd, pkt proto.Packet) {
	r.logger.Event(r.sched.Now(), logx.RecvPacket, r.id, map[string]any{
		"from": end.SrcNodeID(), "pkt": pkt.String(),
	})

	switch {
	case pkt.Dst == r.id && pkt.Type == proto.ServerLoadType:
		r.handleServerLoad(end, pkt)
	case proto.IsService(pkt.Dst) && pkt.Type == proto.ClientRequestType:
		r.forwardServiceRequest(pkt)
	default:
		r.unicastForward(end, pkt)
	}
}

// forwardServiceRequest implements spec.md §4.5 rule 2: look up the
// service in the forwarding table, or drop with a logged warning.
func (r *Router) forwardServiceRequest(pkt proto.Packet) {
	neighbour, ok := r.serviceForwarding[pkt.Dst]
	if !ok {
		r.drop(pkt, "no forwarding entry for service")
		return
	}
	port, ok := r.outgoing[neighbour]
	if !ok {
		r.drop(pkt, "forwarding neighbour has no port")
		return
	}
	port.Put(pkt)
}

// unicastForward implements spec.md §4.5 rule 3: never forward back
// onto link_end.src_node, never forward onto a port whose far end is a
// Host unless dst is that host's id.
func (r *Router) unicastForward(end *netsim.LinkEnd, pkt proto.Packet) {
	route, ok := r.unicast[pkt.Dst]
	if !ok {
		r.drop(pkt, "no unicast route")
		return
	}
	if route.NextHop == end.SrcNodeID() {
		r.drop(pkt, "would forward back onto arrival link")
		return
	}
	if r.hostNeighbors[route.NextHop] && route.NextHop != pkt.Dst {
		r.drop(pkt, "host-trap: next hop is a host not addressed by this packet")
		return
	}
	port, ok := r.outgoing[route.NextHop]
	if !ok {
		r.drop(pkt, "no port to next hop")
		return
	}
	port.Put(pkt)
}

func (r *Router) drop(pkt proto.Packet, reason string) {
	r.logger.Drop(r.sched.Now(), logx.RecvPacket, r.id, reason, map[string]any{"pkt": pkt.String()})
	if r.metrics != nil {
		r.metrics.PacketsDropped.WithLabelValues(r.id, reason).Inc()
	}
}

// handleServerLoad implements the preprocessing common to Announce and
// Withdraw (spec.md §4.6): hop-by-hop delay accumulation, then the
// loop-avoidance check (Invariant L1), then dispatch to the operation-
// specific handler.
func (r *Router) handleServerLoad(end *netsim.LinkEnd, pkt proto.Packet) {
	pkt = pkt.WithDelay(pkt.Payload.Delay + end.PropagationDelay())

	route, ok := r.unicast[pkt.Replica]
	if !ok {
		r.drop(pkt, "loop-avoidance: no unicast route to replica")
		return
	}
	if route.NextHop != end.SrcNodeID() {
		// Silent per spec.md §4.6: not an error, just off the reverse tree.
		return
	}

	switch pkt.Operation {
	case proto.Announce:
		r.handleAnnounce(end, pkt)
	case proto.Withdraw:
		r.handleWithdraw(end, pkt)
	}
}

// handleAnnounce implements spec.md §4.6.1.
func (r *Router) handleAnnounce(end *netsim.LinkEnd, pkt proto.Packet) {
	existing := r.rib.findByReplica(pkt.Replica)

	var marked *Row
	if existing == nil {
		r.rib.insert(Row{
			Replica:      pkt.Replica,
			Neighbour:    end.SrcNodeID(),
			LinkEndRepr:  end.SrcNodeID() + "->" + end.DstNodeID(),
			MsgID:        pkt.Sequence,
			ServiceName:  pkt.Service,
			CreationTime: pkt.CreationTime,
			Load:         pkt.Payload.Load,
			NoOfFlows:    pkt.Payload.NoOfFlows,
			Delay:        pkt.Payload.Delay,
			Slots:        pkt.Payload.Slots,
		})
	} else if existing.CreationTime > pkt.CreationTime {
		return // out-of-order older update
	} else {
		existing.Neighbour = end.SrcNodeID()
		existing.LinkEndRepr = end.SrcNodeID() + "->" + end.DstNodeID()
		existing.MsgID = pkt.Sequence
		existing.CreationTime = pkt.CreationTime
		existing.Load = pkt.Payload.Load
		existing.NoOfFlows = pkt.Payload.NoOfFlows
		existing.Delay = pkt.Payload.Delay
		existing.Slots = pkt.Payload.Slots

		if r.sent.docIDs()[existing.DocID] {
			marked = existing
		}
	}

	announceSet := r.paretoSet()
	announceSetIdx := make(map[int]bool, len(announceSet))
	for _, row := range announceSet {
		announceSetIdx[row.DocID] = true
	}

	sentDocs := r.sent.docIDs()

	var toAnnounce []*Row
	for _, row := range announceSet {
		if !sentDocs[row.DocID] {
			toAnnounce = append(toAnnounce, row)
		}
	}
	if marked != nil && announceSetIdx[marked.DocID] {
		alreadyQueued := false
		for _, row := range toAnnounce {
			if row.DocID == marked.DocID {
				alreadyQueued = true
				break
			}
		}
		if !alreadyQueued {
			toAnnounce = append(toAnnounce, marked)
		}
		// Idempotence is broken exactly for the marked row (spec.md
		// §4.6.1): clear its sent entries so dispatch actually resends.
		r.sent.clear(marked.DocID)
	}

	var toWithdraw []*Row
	for docID := range sentDocs {
		if !announceSetIdx[docID] {
			if row, ok := r.rib.get(docID); ok {
				toWithdraw = append(toWithdraw, row)
			}
		}
	}
	sort.Slice(toWithdraw, func(i, j int) bool { return toWithdraw[i].DocID < toWithdraw[j].DocID })

	for _, row := range toAnnounce {
		r.dispatchAnnounce(row)
	}
	for _, row := range toWithdraw {
		r.dispatchWithdraw(row, "")
		// Fell out of the Pareto set, not a received Withdraw: the row
		// stays in the RIB so it can return later (spec.md §4.6.1).
	}

	r.updateRIBGauge()
	r.recomputeBestReplicas()
}

// handleWithdraw implements spec.md §4.6.2.
func (r *Router) handleWithdraw(end *netsim.LinkEnd, pkt proto.Packet) {
	row := r.rib.findByReplica(pkt.Replica)
	if row == nil {
		return
	}
	r.dispatchWithdraw(row, end.SrcNodeID())
	r.rib.delete(row.DocID)

	r.updateRIBGauge()
	r.recomputeBestReplicas()
}

// dispatchAnnounce sends row to every eligible neighbour per spec.md
// §4.6.1's per-neighbor loop: split-horizon, host-trap, and sent-table
// idempotence all apply.
func (r *Router) dispatchAnnounce(row *Row) {
	for _, n := range r.outgoingOrder {
		if row.Neighbour == n || r.hostNeighbors[n] {
			continue
		}
		if r.sent.has(row.DocID, n) {
			continue
		}
		port := r.outgoing[n]
		if port == nil {
			continue
		}
		r.seq++
		pkt := proto.NewServerLoad(r.seq, r.id, n, row.ServiceName, row.Replica, proto.Announce,
			proto.Payload{Load: row.Load, NoOfFlows: row.NoOfFlows, Delay: row.Delay, Slots: row.Slots}, row.CreationTime)
		port.Put(pkt)
		r.sent.add(row.DocID, n)
		if r.metrics != nil {
			r.metrics.AnnouncementsSent.WithLabelValues(r.id).Inc()
		}
		r.logger.Event(r.sched.Now(), logx.AnnounceTag, r.id, map[string]any{"replica": row.Replica, "to": n})
	}
}

// dispatchWithdraw sends row's withdrawal to every neighbour that has
// an outstanding sent-table entry for it, per spec.md §4.6.1/§4.6.2.
// excludeNeighbour, when non-empty, is the arrival link for a received
// Withdraw (spec.md §4.6.2: "n != link_end.src_node.id"); it is empty
// when called from the "fell out of Pareto set" path, which has no
// arrival link to exclude.
func (r *Router) dispatchWithdraw(row *Row, excludeNeighbour string) {
	for _, n := range r.outgoingOrder {
		if n == excludeNeighbour || r.hostNeighbors[n] {
			continue
		}
		if !r.sent.has(row.DocID, n) {
			continue
		}
		port := r.outgoing[n]
		if port == nil {
			continue
		}
		r.seq++
		pkt := proto.NewServerLoad(r.seq, r.id, n, row.ServiceName, row.Replica, proto.Withdraw,
			proto.Payload{Load: row.Load, NoOfFlows: row.NoOfFlows, Delay: row.Delay, Slots: row.Slots}, row.CreationTime)
		port.Put(pkt)
		r.sent.remove(row.DocID, n)
		if r.metrics != nil {
			r.metrics.WithdrawalsSent.WithLabelValues(r.id).Inc()
		}
		r.logger.Event(r.sched.Now(), logx.ForwardWithdraw, r.id, map[string]any{"replica": row.Replica, "to": n})
	}
	r.sent.clear(row.DocID) // defensive cleanup, spec.md §4.6.1
}

// better reports whether b is strictly better than a under the metric
// list M (spec.md §4.6.1): better-or-equal on every metric, strictly
// better on at least one.
func (r *Router) better(b, a *Row) bool {
	strictlyBetter := false
	for _, m := range r.metricList {
		av, bv := m.get(a), m.get(b)
		if bv > av {
			return false
		}
		if bv < av {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// same reports whether a and b are equal on every metric in M.
func (r *Router) same(a, b *Row) bool {
	for _, m := range r.metricList {
		if m.get(a) != m.get(b) {
			return false
		}
	}
	return true
}

// paretoSet computes P, the Pareto-maximal announce-set (spec.md
// §4.6.1). First pass: every row not strictly dominated by any other
// row, checked pairwise across the full RIB (no dominated-row shortcut,
// so a row tied with an already-dropped dominated row is still judged
// on its own merits). Second pass: dedup exact ties, keeping the first
// encountered in doc_id order.
func (r *Router) paretoSet() []*Row {
	rows := r.rib.sorted()
	nonDominated := make([]*Row, 0, len(rows))
	for _, candidate := range rows {
		dominated := false
		for _, other := range rows {
			if other.DocID == candidate.DocID {
				continue
			}
			if r.better(other, candidate) {
				dominated = true
				break
			}
		}
		if !dominated {
			nonDominated = append(nonDominated, candidate)
		}
	}

	out := make([]*Row, 0, len(nonDominated))
	for _, candidate := range nonDominated {
		tie := false
		for _, kept := range out {
			if r.same(candidate, kept) {
				tie = true
				break
			}
		}
		if !tie {
			out = append(out, candidate)
		}
	}
	return out
}

// recomputeBestReplicas implements spec.md §4.6.3 for every service
// this router has ever known, not just those currently in the RIB: a
// service whose last row was just withdrawn must have its stale
// forwarding entry cleared (Invariant F1), which a loop over only
// present-in-RIB services would miss.
func (r *Router) recomputeBestReplicas() {
	byService := r.rib.byService()

	known := make(map[string]bool)
	for svc := range byService {
		known[svc] = true
	}
	for svc := range r.serviceForwarding {
		known[svc] = true
	}

	for svc := range known {
		rows := byService[svc]
		if len(rows) == 0 {
			delete(r.serviceForwarding, svc)
			delete(r.bestUtility, svc)
			continue
		}

		var best *Row
		bestU := math.Inf(1)
		for _, row := range rows {
			u := r.utility(r.alpha, row.Load, row.Delay)
			if u < bestU {
				bestU = u
				best = row
			}
		}

		oldUtility, hadOld := r.bestUtility[svc]
		diff := round4(math.Abs(bestU - oldUtility))
		if !hadOld {
			r.serviceForwarding[svc] = best.Neighbour
			r.bestUtility[svc] = bestU
			r.logBestReplica(svc, best, bestU)
			continue
		}
		if diff == 0 {
			continue
		}
		if diff < r.dampingFactor {
			continue
		}
		r.serviceForwarding[svc] = best.Neighbour
		r.bestUtility[svc] = bestU
		if r.metrics != nil {
			r.metrics.BestReplicaSwaps.WithLabelValues(r.id, svc).Inc()
		}
		r.logBestReplica(svc, best, bestU)
	}
}

func (r *Router) logBestReplica(service string, best *Row, utility float64) {
	r.logger.Event(r.sched.Now(), logx.BestReplica, r.id, map[string]any{
		"service": service, "replica": best.Replica, "neighbour": best.Neighbour, "utility": utility,
	})
}

func (r *Router) updateRIBGauge() {
	if r.metrics == nil {
		return
	}
	r.metrics.RIBSize.WithLabelValues(r.id).Set(float64(len(r.rib.rows)))
	r.metrics.SentTableSize.WithLabelValues(r.id).Set(float64(len(r.sent)))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
