package node

import (
	"testing"

	"pgregory.net/rapid"
)

// TestServer_Admission_NeverExceedsSlots is a property check of
// Invariants SV1/SV2 (spec.md §3): no matter how many concurrent
// requests a server receives, admitted flows never exceed slots and
// calculateSlots() never goes negative. Requests are sized so none
// release before the batch is fully delivered, isolating the admission
// check from the release path.
func TestServer_Admission_NeverExceedsSlots(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		slots := rapid.IntRange(0, 20).Draw(rt, "slots")
		nRequests := rapid.IntRange(0, 40).Draw(rt, "nRequests")

		srv, sched, _ := newTestServer(t, slots, 0.1)

		for i := 0; i < nRequests; i++ {
			flow := rapid.StringMatching(`f[0-9]{1,3}`).Draw(rt, "flow")
			srv.Recv(nil, request("client", "§svc", 1000, 0, flow))
		}
		sched.RunUntil(0)

		if srv.noOfFlows > slots {
			rt.Fatalf("admitted %d flows against a %d-slot capacity", srv.noOfFlows, slots)
		}
		if srv.calculateSlots() < 0 {
			rt.Fatalf("calculateSlots() went negative: %d", srv.calculateSlots())
		}
	})
}
