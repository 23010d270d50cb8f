package node

import (
	"github.com/google/uuid"

	"github.com/kprusa/servicecast/internal/netsim"
	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
)

// Client generates ClientRequests toward a service name over its
// single upstream port (original_source/Client.py: a bare Host
// subclass with no behavior of its own beyond request generation,
// which lived in Host.py/Generator.py in the prototype).
type Client struct {
	id           string
	sched        *sim.Scheduler
	service      string
	upstreamPort *netsim.SwitchPort
	pktNo        uint64
}

// NewClient builds a Client that will request service once an upstream
// port is wired (SetUpstream).
func NewClient(id string, sched *sim.Scheduler, service string) *Client {
	return &Client{id: id, sched: sched, service: service}
}

// ID returns the client's node id.
func (c *Client) ID() string { return c.id }

// SetUpstream wires the single outgoing port toward this client's
// router (a client has degree 1, same as a Server).
func (c *Client) SetUpstream(port *netsim.SwitchPort) { c.upstreamPort = port }

// GenerateRequest builds and enqueues a ClientRequest of the given size
// (spec.md §4.4). Each request gets a fresh flow id via google/uuid,
// since the prototype's bare integer pkt_no collides across clients in
// a multi-client topology.
func (c *Client) GenerateRequest(t, size float64) {
	c.pktNo++
	flowID := uuid.NewString()
	pkt := proto.NewClientRequest(c.pktNo, c.id, c.service, size, t, flowID)
	if c.upstreamPort != nil {
		c.upstreamPort.Put(pkt)
	}
}

// Recv implements netsim.Receiver. Clients never receive ServerLoad
// packets (spec.md §4.4) and this simulator never routes a response
// back to a client, so Recv is a no-op.
func (c *Client) Recv(_ *netsim.LinkEnd, _ proto.Packet) {}
