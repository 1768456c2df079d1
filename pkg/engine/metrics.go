package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HistreeNodesTotal tracks node creations per file graph
	HistreeNodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histree_nodes_total",
			Help: "Total number of history nodes created",
		},
		[]string{"file_id"},
	)

	// HistreeNavigationsTotal tracks navigations by resolved mode
	HistreeNavigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histree_navigations_total",
			Help: "Total number of navigations, labeled by apply/revert mode",
		},
		[]string{"file_id", "mode"},
	)

	// HistreePollsTotal tracks change polls
	HistreePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histree_polls_total",
			Help: "Total number of pending-change polls",
		},
		[]string{"file_id"},
	)

	// HistreeAcksTotal tracks acknowledgments by outcome
	HistreeAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histree_acks_total",
			Help: "Total number of acknowledgments, labeled by outcome",
		},
		[]string{"file_id", "result"},
	)

	// HistreePendingDepth tracks the current pending-queue depth
	HistreePendingDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "histree_pending_depth",
			Help: "Current depth of the pending-change queue",
		},
		[]string{"file_id"},
	)

	// HistreeBacklogSlope tracks the fitted growth rate of the pending queue
	HistreeBacklogSlope = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "histree_backlog_slope",
			Help: "Fitted pending-queue growth rate in entries per second",
		},
		[]string{"file_id"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(HistreeNodesTotal)
	prometheus.MustRegister(HistreeNavigationsTotal)
	prometheus.MustRegister(HistreePollsTotal)
	prometheus.MustRegister(HistreeAcksTotal)
	prometheus.MustRegister(HistreePendingDepth)
	prometheus.MustRegister(HistreeBacklogSlope)
}
