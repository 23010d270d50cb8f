// Package sim provides the discrete-event scheduler that drives the
// simulation: a monotonic simulated clock and a priority queue of
// callbacks keyed by simulated time.
package sim

import "container/heap"

// Callback is a unit of work scheduled for some simulated time.
type Callback func()

// event is one entry in the scheduler's priority queue. seq breaks ties
// between events scheduled for the same simulated time in the order they
// were submitted, giving the FIFO tie-break spec.md §5 requires.
type event struct {
	at  float64
	seq uint64
	fn  Callback
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) {
	*q = append(*q, x.(*event))
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler is a single-threaded cooperative discrete-event loop. All
// callbacks run on the goroutine that calls RunUntil; a callback that
// wants to yield must do so by scheduling a future callback (After) or
// by communicating through a channel, never by sleeping the real clock.
type Scheduler struct {
	now    float64
	queue  eventQueue
	nextID uint64
}

// NewScheduler returns a Scheduler at simulated time 0.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.queue)
	return s
}

// Now returns the current simulated time.
func (s *Scheduler) Now() float64 { return s.now }

// After schedules fn to run after d simulated-time units have elapsed.
// Negative d is treated as 0.
func (s *Scheduler) After(d float64, fn Callback) {
	if d < 0 {
		d = 0
	}
	s.schedule(s.now+d, fn)
}

// AtNext schedules fn to run at or after the given absolute simulated
// time. If at has already passed, fn runs at the current time.
func (s *Scheduler) AtNext(at float64, fn Callback) {
	if at < s.now {
		at = s.now
	}
	s.schedule(at, fn)
}

func (s *Scheduler) schedule(at float64, fn Callback) {
	e := &event{at: at, seq: s.nextID, fn: fn}
	s.nextID++
	heap.Push(&s.queue, e)
}

// RunUntil drains the queue, executing callbacks in (time, insertion
// order) until the queue is empty or the next event's time strictly
// exceeds horizon, and then advances the clock to horizon. Events later
// than horizon are not run by this call; they stay queued, so a later
// RunUntil with a larger horizon runs them.
func (s *Scheduler) RunUntil(horizon float64) {
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.at > horizon {
			break
		}
		e := heap.Pop(&s.queue).(*event)
		s.now = e.at
		e.fn()
	}
	s.now = horizon
}

// Pending reports how many callbacks are still queued.
func (s *Scheduler) Pending() int { return s.queue.Len() }
