package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Jobs claimed from the durable queue across all claim cycles
	jobsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldflow_jobs_claimed_total",
			Help: "Total number of send jobs claimed for processing",
		},
	)

	// Job dispatch outcomes partitioned by result
	jobSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldflow_job_sends_total",
			Help: "Total number of dispatched send jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Follow-up dispatch outcomes partitioned by result
	followUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldflow_follow_ups_total",
			Help: "Total number of dispatched follow-ups by outcome",
		},
		[]string{"outcome"},
	)

	// Pending follow-up tasks held in the in-memory dispatch queue
	followUpQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldflow_follow_up_queue_depth",
			Help: "Number of follow-up tasks waiting in the dispatch queue",
		},
	)
)
