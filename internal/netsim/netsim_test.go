package netsim

import (
	"testing"

	"github.com/kprusa/servicecast/internal/proto"
	"github.com/kprusa/servicecast/internal/sim"
)

type recorder struct {
	ends []*LinkEnd
	pkts []proto.Packet
	recv func()
}

func (r *recorder) Recv(end *LinkEnd, pkt proto.Packet) {
	r.ends = append(r.ends, end)
	r.pkts = append(r.pkts, pkt)
	if r.recv != nil {
		r.recv()
	}
}

func TestLinkEnd_DeliversAfterPropagationDelay(t *testing.T) {
	s := sim.NewScheduler()
	end := NewLinkEnd(s, "A", "B", 2)
	rec := &recorder{}
	end.SetDestination(rec)

	var deliveredAt float64 = -1
	rec.recv = func() { deliveredAt = s.Now() }

	end.Put(proto.NewUnicast(1, "A", "B", 0, 0, ""))
	s.RunUntil(10)

	if len(rec.pkts) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.pkts))
	}
	if deliveredAt != 2 {
		t.Errorf("delivered at %v, want 2", deliveredAt)
	}
}

func TestSwitchPort_SerializationDelay(t *testing.T) {
	s := sim.NewScheduler()
	end := NewLinkEnd(s, "A", "B", 0)
	rec := &recorder{}
	end.SetDestination(rec)

	port := NewSwitchPort(s, end, 10) // rate 10 units/sec
	port.Put(proto.NewUnicast(1, "A", "B", 20, 0, ""))

	s.RunUntil(10)

	if len(rec.pkts) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.pkts))
	}
}

func TestSwitchPort_FIFOOrdering(t *testing.T) {
	s := sim.NewScheduler()
	end := NewLinkEnd(s, "A", "B", 0)
	rec := &recorder{}
	end.SetDestination(rec)

	port := NewSwitchPort(s, end, 10)
	port.Put(proto.NewUnicast(1, "A", "B", 10, 0, ""))
	port.Put(proto.NewUnicast(2, "A", "B", 10, 0, ""))
	port.Put(proto.NewUnicast(3, "A", "B", 10, 0, ""))

	s.RunUntil(100)

	if len(rec.pkts) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(rec.pkts))
	}
	for i, p := range rec.pkts {
		if p.Sequence != uint64(i+1) {
			t.Errorf("delivery %d out of order: seq %d", i, p.Sequence)
		}
	}
}

func TestSwitchPort_UnlimitedRateIsInstant(t *testing.T) {
	s := sim.NewScheduler()
	end := NewLinkEnd(s, "A", "B", 0)
	rec := &recorder{}
	end.SetDestination(rec)

	port := NewSwitchPort(s, end, 0)
	port.Put(proto.NewUnicast(1, "A", "B", 1000, 0, ""))

	s.RunUntil(0)

	if len(rec.pkts) != 1 {
		t.Fatalf("expected instant delivery at rate=0, got %d deliveries", len(rec.pkts))
	}
}

func TestSwitchPort_PacketLimit(t *testing.T) {
	s := sim.NewScheduler()
	end := NewLinkEnd(s, "A", "B", 1)
	rec := &recorder{}
	end.SetDestination(rec)

	port := NewSwitchPort(s, end, 10)
	port.SetLimits(1, 0)

	if !port.Put(proto.NewUnicast(1, "A", "B", 5, 0, "")) {
		t.Fatalf("first Put should be accepted")
	}
	if port.Put(proto.NewUnicast(2, "A", "B", 5, 0, "")) {
		t.Fatalf("second Put should be rejected: queue limit exceeded")
	}
}
