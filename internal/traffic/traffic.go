// Package traffic implements the Poisson/exponential arrival sources
// (C7) that inject ClientRequests and background load events, grounded
// on original_source/Generator.py's packet_generator: an exponential
// inter-arrival distribution plus a fixed-size distribution, both drawn
// from a seeded generator for reproducibility. Go's math/rand takes the
// place of numpy.random.RandomState, since no RNG library appears
// anywhere in the retrieved pack.
package traffic

import (
	"math/rand"

	"github.com/kprusa/servicecast/internal/config"
	"github.com/kprusa/servicecast/internal/sim"
)

// Generator drives a client's request arrivals: each tick it schedules
// the next arrival after an Exp(1/lambda) interval and calls onArrival
// with a freshly drawn request size.
type Generator struct {
	sched     *sim.Scheduler
	rng       *rand.Rand
	lambda    float64
	sizeScale float64
	onArrival func(t, size float64)
}

// NewGenerator builds a traffic source seeded per cfg.Seed so a run is
// reproducible; arrival and size draws share one RNG stream, matching
// the prototype's single np.random.RandomState(seed) per generator.
func NewGenerator(sched *sim.Scheduler, cfg config.TrafficConfig, onArrival func(t, size float64)) *Generator {
	return &Generator{
		sched:     sched,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		lambda:    cfg.ArrivalLambda,
		sizeScale: cfg.SizeScale,
		onArrival: onArrival,
	}
}

// Start schedules the first arrival. Each arrival reschedules the next
// one, so the generator keeps firing for as long as the scheduler runs;
// an arrival that falls past a RunUntil horizon stays queued and is not
// run by that call.
func (g *Generator) Start() {
	g.scheduleNext()
}

func (g *Generator) scheduleNext() {
	interval := g.rng.ExpFloat64() / g.lambda
	g.sched.After(interval, g.fire)
}

func (g *Generator) fire() {
	size := g.sizeScale * (1 + g.rng.ExpFloat64())
	g.onArrival(g.sched.Now(), size)
	g.scheduleNext()
}

// BackgroundLoad periodically perturbs a server's last_event_info
// (spec.md §3/§9's "LoadEvent" background contribution), the part of
// the original prototype's Generator/Network wiring the distilled spec
// only gestures at via "last_event_info"; it is supplemented here so a
// scenario can exercise maybe_announce without any client traffic at
// all, matching original_source/Server.py's process_load_event path.
type BackgroundLoad struct {
	sched    *sim.Scheduler
	rng      *rand.Rand
	lambda   float64
	maxLoad  float64
	maxFlows int
	apply    func(t float64, load float64, flows int)
}

// NewBackgroundLoad builds a background load-event source for one
// server; each event it fires applies to all of that server's services.
func NewBackgroundLoad(sched *sim.Scheduler, cfg config.TrafficConfig, maxLoad float64, maxFlows int, apply func(t float64, load float64, flows int)) *BackgroundLoad {
	return &BackgroundLoad{
		sched:    sched,
		rng:      rand.New(rand.NewSource(cfg.Seed + 1)),
		lambda:   cfg.ArrivalLambda,
		maxLoad:  maxLoad,
		maxFlows: maxFlows,
		apply:    apply,
	}
}

// Start schedules the first background load event.
func (b *BackgroundLoad) Start() {
	b.scheduleNext()
}

func (b *BackgroundLoad) scheduleNext() {
	interval := b.rng.ExpFloat64() / b.lambda
	b.sched.After(interval, b.fire)
}

func (b *BackgroundLoad) fire() {
	load := b.maxLoad * b.rng.Float64()
	flows := int(float64(b.maxFlows) * b.rng.Float64())
	b.apply(b.sched.Now(), load, flows)
	b.scheduleNext()
}
