// Package node implements the leaf host types: Server (C5), which
// carries load/flow state, admission control, and damped ServerLoad
// announcement emission, and Client (C5), which generates requests.
// Grounded on original_source/Server.py and Client.py, generalized from
// a single hardcoded service name and load-by-one functions into the
// plugable load/flow functions spec.md §6 calls configurable.
package node

import (
	"math"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
)

// LoadFunc and FlowFunc are the plugable load/flow step functions
// spec.md §6 calls configurable; the defaults below match
// original_source/Server.py's load_up_by1/load_down_by1 family.
type LoadFunc func(float64) float64
type FlowFunc func(int) int

func LoadUpByOne(v float64) float64   { return v + 1 }
func LoadDownByOne(v float64) float64 { return v - 1 }
func FlowsUpByOne(v int) int          { return v + 1 }
func FlowsDownByOne(v int) int        { return v - 1 }

// SizeToTime converts a request size into a simulated-time duration the
// request occupies the server (original_source/Server.py's
// size_to_time, which is the identity function by default).
func SizeToTime(size float64) float64 { return size }

// Server is one service replica: it owns load/flow counters, admission
// control against a slot capacity (Invariants SV1/SV2), and a damped
// announcement path (Invariant SV3).
type Server struct {
	id      string
	sched   *sim.Scheduler
	logger  *logx.Logger
	metrics *metrics.Metrics

	slots        int
	changeFactor float64

	upstreamID   string
	upstreamPort *netsim.SwitchPort

	serviceNames []string

	load      float64
	noOfFlows int

	haveEventInfo  bool
	lastEventLoad  float64
	lastEventFlows int

	lastPayload proto.Payload

	pktNo uint64

	// lastAnnounceTick guards Invariant SV3: at most one scheduled or
	// sent announcement per integer tick per service.
	lastAnnounceTick map[string]float64

	loadUpFn    LoadFunc
	loadDownFn  LoadFunc
	flowsUpFn   FlowFunc
	flowsDownFn FlowFunc
}

// NewServer builds a Server for the given service names, replying to
// ClientRequests over its single upstream port (a server has degree 1,
// spec.md §4.3).
func NewServer(id string, sched *sim.Scheduler, cfg config.ServerConfig, services []string, logger *logx.Logger, m *metrics.Metrics) *Server {
	return &Server{
		id:               id,
		sched:            sched,
		logger:           logger,
		metrics:          m,
		slots:            cfg.Slots,
		changeFactor:     cfg.ChangeFactor,
		serviceNames:     services,
		lastPayload:      proto.Payload{Slots: cfg.Slots},
		lastAnnounceTick: make(map[string]float64),
		loadUpFn:         LoadUpByOne,
		loadDownFn:       LoadDownByOne,
		flowsUpFn:        FlowsUpByOne,
		flowsDownFn:      FlowsDownByOne,
	}
}

// ID returns the server's node id, which also serves as the replica
// name in ServerLoad announcements.
func (s *Server) ID() string { return s.id }

// SetUpstream wires the single outgoing port toward this server's
// router.
func (s *Server) SetUpstream(neighbourID string, port *netsim.SwitchPort) {
	s.upstreamID = neighbourID
	s.upstreamPort = port
}

// SetLoadFuncs replaces the load/flow step functions applied on admit
// and release (the defaults are the by-one functions above).
func (s *Server) SetLoadFuncs(loadUp, loadDown LoadFunc, flowsUp, flowsDown FlowFunc) {
	s.loadUpFn, s.loadDownFn = loadUp, loadDown
	s.flowsUpFn, s.flowsDownFn = flowsUp, flowsDown
}

// providesService reports whether name is one of this server's
// services.
func (s *Server) providesService(name string) bool {
	for _, n := range s.serviceNames {
		if n == name {
			return true
		}
	}
	return false
}

// Recv implements netsim.Receiver: a server only ever receives
// ClientRequests addressed to one of its own services (spec.md §4.3).
func (s *Server) Recv(_ *netsim.LinkEnd, pkt proto.Packet) {
	if pkt.Type != proto.ClientRequestType || !proto.IsService(pkt.Dst) || !s.providesService(pkt.Dst) {
		return
	}
	s.admit(pkt)
}

// admit applies admission control (Invariants SV1/SV2) and, if
// accepted, schedules the matching release.
func (s *Server) admit(pkt proto.Packet) {
	if s.calculateSlots() <= 0 {
		s.logger.Drop(s.sched.Now(), logx.NoMoreCapacity, s.id, "no capacity", map[string]any{
			"src": pkt.Src, "flow": pkt.FlowID,
		})
		if s.metrics != nil {
			s.metrics.RequestsRejected.WithLabelValues(s.id).Inc()
		}
		return
	}

	s.load = s.loadUpFn(s.load)
	s.noOfFlows = s.flowsUpFn(s.noOfFlows)
	if s.metrics != nil {
		s.metrics.RequestsAdmitted.WithLabelValues(s.id).Inc()
	}
	s.logger.Event(s.sched.Now(), logx.IncreaseLoad, s.id, map[string]any{
		"load": s.load, "flows": s.noOfFlows, "slots": s.calculateSlots(),
	})

	size := pkt.Size
	s.sched.After(SizeToTime(size), func() {
		s.release(pkt)
	})

	s.maybeAnnounce(s.sched.Now(), pkt.Dst)
}

// release applies the load/flow decrease once a request's service time
// has elapsed.
func (s *Server) release(pkt proto.Packet) {
	s.load = s.loadDownFn(s.load)
	s.noOfFlows = s.flowsDownFn(s.noOfFlows)
	s.logger.Event(s.sched.Now(), logx.DecreaseLoad, s.id, map[string]any{
		"load": s.load, "flows": s.noOfFlows, "slots": s.calculateSlots(),
	})
	s.maybeAnnounce(s.sched.Now(), pkt.Dst)
}

// maybeAnnounce implements spec.md §4.3's change-threshold-gated
// emission: no announcement when the relative flow change is zero or
// below changeFactor; otherwise emit now (on an integer tick) or at the
// next integer tick.
func (s *Server) maybeAnnounce(t float64, service string) {
	if s.slots == 0 {
		return
	}
	lastFlows := float64(s.lastPayload.NoOfFlows)
	diff := math.Abs(lastFlows/float64(s.slots) - float64(s.calculateFlows())/float64(s.slots))
	diff = math.Round(diff*1000) / 1000

	if diff == 0 {
		return
	}
	if diff < s.changeFactor {
		return
	}

	tick := t
	if t != math.Floor(t) {
		tick = math.Ceil(t)
	}

	if last, ok := s.lastAnnounceTick[service]; ok && last == tick {
		return // Invariant SV3: one announcement per integer tick per service
	}
	s.lastAnnounceTick[service] = tick

	if tick == t {
		s.sendLoadPacket(t, service)
		return
	}
	wait := tick - t
	s.sched.After(wait, func() {
		s.sendLoadPacket(tick, service)
	})
}

// sendLoadPacket emits a ServerLoad Announce packet toward the
// server's upstream router (spec.md §4.3).
func (s *Server) sendLoadPacket(t float64, service string) {
	payload := proto.Payload{
		Load:      s.calculateLoad(),
		NoOfFlows: s.calculateFlows(),
		Delay:     0,
		Slots:     s.calculateSlots(),
	}
	s.lastPayload = payload

	s.pktNo++
	pkt := proto.NewServerLoad(s.pktNo, s.id, s.upstreamID, service, s.id, proto.Announce, payload, t)
	if s.upstreamPort != nil {
		s.upstreamPort.Put(pkt)
	}
	if s.metrics != nil {
		s.metrics.ServerLoad.WithLabelValues(s.id).Set(payload.Load)
		s.metrics.ServerFlows.WithLabelValues(s.id).Set(float64(payload.NoOfFlows))
	}
	s.logger.Event(t, logx.AnnounceTag, s.id, map[string]any{
		"service": service, "load": payload.Load, "flows": payload.NoOfFlows, "slots": payload.Slots,
	})
}

// ApplyBackgroundLoad applies a background LoadEvent (a supplemented
// feature grounded on original_source/Server.py's process_load_event):
// if either value actually changed, it is folded into last_event_info
// and a re-announcement is attempted for every service this server
// provides. The first call always announces every service (at t, or at
// the next integer tick), whatever its values, bypassing the
// change-factor damping.
func (s *Server) ApplyBackgroundLoad(t float64, load float64, flows int) {
	first := !s.haveEventInfo
	if !first && load == s.lastEventLoad && flows == s.lastEventFlows {
		return
	}
	s.haveEventInfo = true
	s.lastEventLoad = load
	s.lastEventFlows = flows
	for _, svc := range s.serviceNames {
		if first {
			tick := math.Ceil(t)
			s.lastAnnounceTick[svc] = tick
			if tick == t {
				s.sendLoadPacket(t, svc)
			} else {
				s.sched.After(tick-t, func() { s.sendLoadPacket(tick, svc) })
			}
			continue
		}
		s.maybeAnnounce(t, svc)
	}
}

// calculateLoad sums the request-driven load and the background
// contribution (spec.md §3, Server.py's calculate_load).
func (s *Server) calculateLoad() float64 {
	return s.lastEventLoad + s.load
}

// calculateFlows sums the request-driven flow count and the background
// contribution.
func (s *Server) calculateFlows() int {
	return s.lastEventFlows + s.noOfFlows
}

// calculateSlots is Invariant SV2: slots - calculateFlows(). Background
// flows can push it below zero; admit() rejects whenever it is zero or
// less.
func (s *Server) calculateSlots() int {
	return s.slots - s.calculateFlows()
}
