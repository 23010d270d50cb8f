// Package metrics exposes prometheus client_golang counters and gauges
// for the router and server control-plane events spec.md §6 names:
// announcements, withdrawals, RIB/sent-table size, best-replica swaps,
// and admission outcomes. Grounded on grimm-is-flywall's
// internal/ebpf/metrics.Metrics: a flat struct of pre-built collectors
// whose constructor, New, registers them against the Registerer it is
// given, rather than package-level globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector this simulator updates during a run.
type Metrics struct {
	AnnouncementsSent   *prometheus.CounterVec
	WithdrawalsSent     *prometheus.CounterVec
	PacketsDropped      *prometheus.CounterVec
	RIBSize             *prometheus.GaugeVec
	SentTableSize       *prometheus.GaugeVec
	BestReplicaSwaps    *prometheus.CounterVec
	RequestsAdmitted    *prometheus.CounterVec
	RequestsRejected    *prometheus.CounterVec
	ServerLoad          *prometheus.GaugeVec
	ServerFlows         *prometheus.GaugeVec
}

// New builds a Metrics with every collector registered against its own
// registry, so tests can construct one per case without clashing with
// prometheus's default global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnnouncementsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_announcements_sent_total",
			Help: "Total ServerLoad Announce packets sent by a router.",
		}, []string{"router"}),
		WithdrawalsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_withdrawals_sent_total",
			Help: "Total ServerLoad Withdraw packets sent by a router.",
		}, []string{"router"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_packets_dropped_total",
			Help: "Total packets dropped, labeled by drop reason.",
		}, []string{"router", "reason"}),
		RIBSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servicecast_rib_rows",
			Help: "Current number of rows in a router's service RIB.",
		}, []string{"router"}),
		SentTableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servicecast_sent_table_entries",
			Help: "Current number of (doc_id, neighbor) pairs in a router's sent table.",
		}, []string{"router"}),
		BestReplicaSwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_best_replica_swaps_total",
			Help: "Total times a router's service forwarding table entry changed.",
		}, []string{"router", "service"}),
		RequestsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_requests_admitted_total",
			Help: "Total ClientRequests admitted by a server.",
		}, []string{"server"}),
		RequestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicecast_requests_rejected_total",
			Help: "Total ClientRequests rejected for lack of capacity.",
		}, []string{"server"}),
		ServerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servicecast_server_load",
			Help: "Current reported load of a server.",
		}, []string{"server"}),
		ServerFlows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servicecast_server_flows",
			Help: "Current number of active flows at a server.",
		}, []string{"server"}),
	}
	reg.MustRegister(
		m.AnnouncementsSent, m.WithdrawalsSent, m.PacketsDropped,
		m.RIBSize, m.SentTableSize, m.BestReplicaSwaps,
		m.RequestsAdmitted, m.RequestsRejected, m.ServerLoad, m.ServerFlows,
	)
	return m
}
