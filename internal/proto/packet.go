// Package proto defines the wire records the simulator passes between
// switch ports: ClientRequest and ServerLoad announcements, plus plain
// unicast data. Every packet is immutable once built (spec.md §3).
package proto

import "fmt"

// ServiceSentinel prefixes every service name so router/client code can
// tell a service destination from an ordinary node id without a side
// table (spec.md §3: "the corpus uses §; any fixed sentinel ... is
// acceptable").
const ServiceSentinel = "§"

// IsService reports whether dst names a service rather than a node.
func IsService(dst string) bool {
	return len(dst) >= len(ServiceSentinel) && dst[:len(ServiceSentinel)] == ServiceSentinel
}

// Type identifies the kind of payload a Packet carries.
type Type int

const (
	// Unicast is ordinary src->dst data with no type-specific fields.
	Unicast Type = iota
	// ClientRequestType is a request for a service, originated by a client.
	ClientRequestType
	// ServerLoadType is a hop-by-hop replica-state announcement.
	ServerLoadType
)

func (t Type) String() string {
	switch t {
	case ClientRequestType:
		return "ClientRequest"
	case ServerLoadType:
		return "ServerLoad"
	default:
		return "Unicast"
	}
}

// Operation distinguishes the two ServerLoad verbs.
type Operation int

const (
	Announce Operation = iota
	Withdraw
)

func (o Operation) String() string {
	if o == Withdraw {
		return "Withdraw"
	}
	return "Announce"
}

// Payload carries the metrics a ServerLoad packet announces about a
// replica: current load, active flow count, accumulated path delay
// (grown by one propagation delay per hop), and remaining slots.
type Payload struct {
	Load       float64
	NoOfFlows  int
	Delay      float64
	Slots      int
}

// Packet is the immutable record carried over a LinkEnd (spec.md §3).
// Fields not relevant to a packet's Type are left zero.
type Packet struct {
	CreationTime float64
	Size         float64
	Sequence     uint64
	Src          string
	Dst          string
	FlowID       string
	Type         Type

	// ServerLoad-only fields.
	Service   string
	Replica   string
	Operation Operation
	Payload   Payload
}

// NewUnicast builds a plain forwarded data packet.
func NewUnicast(seq uint64, src, dst string, size, createdAt float64, flowID string) Packet {
	return Packet{
		CreationTime: createdAt,
		Size:         size,
		Sequence:     seq,
		Src:          src,
		Dst:          dst,
		FlowID:       flowID,
		Type:         Unicast,
	}
}

// NewClientRequest builds a request for a service name. dst must satisfy
// IsService.
func NewClientRequest(seq uint64, src, service string, size, createdAt float64, flowID string) Packet {
	return Packet{
		CreationTime: createdAt,
		Size:         size,
		Sequence:     seq,
		Src:          src,
		Dst:          service,
		FlowID:       flowID,
		Type:         ClientRequestType,
	}
}

// NewServerLoad builds a ServerLoad announcement or withdrawal. dst is
// the next hop it is addressed to (hop-by-hop, not the final recipient).
func NewServerLoad(seq uint64, src, dst, service, replica string, op Operation, payload Payload, createdAt float64) Packet {
	return Packet{
		CreationTime: createdAt,
		Sequence:     seq,
		Src:          src,
		Dst:          dst,
		Type:         ServerLoadType,
		Service:      service,
		Replica:      replica,
		Operation:    op,
		Payload:      payload,
	}
}

// WithDelay returns a copy of p with Payload.Delay set to d. Used by the
// router to accumulate path delay hop-by-hop without mutating the
// original packet (spec.md §4.6: "overwrite payload.delay := delay'
// before any further use").
func (p Packet) WithDelay(d float64) Packet {
	p.Payload.Delay = d
	return p
}

// WithDestination returns a copy of p addressed to a new next hop, used
// when re-transmitting a ServerLoad packet to each outgoing neighbor.
func (p Packet) WithDestination(dst string) Packet {
	p.Dst = dst
	return p
}

func (p Packet) String() string {
	switch p.Type {
	case ServerLoadType:
		return fmt.Sprintf("ServerLoad{%s replica=%s service=%s src=%s dst=%s load=%.2f delay=%.2f flows=%d slots=%d}",
			p.Operation, p.Replica, p.Service, p.Src, p.Dst, p.Payload.Load, p.Payload.Delay, p.Payload.NoOfFlows, p.Payload.Slots)
	case ClientRequestType:
		return fmt.Sprintf("ClientRequest{src=%s dst=%s size=%.2f}", p.Src, p.Dst, p.Size)
	default:
		return fmt.Sprintf("Unicast{src=%s dst=%s size=%.2f}", p.Src, p.Dst, p.Size)
	}
}
