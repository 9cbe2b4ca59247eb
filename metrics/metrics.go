package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TreeHeaders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forkwatch_tree_headers",
		Help: "Number of block headers held in the header tree",
	})

	TreeForks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forkwatch_tree_forks",
		Help: "Number of headers in the tree with more than one child",
	})

	TipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forkwatch_active_tip_height",
		Help: "Height of the active chain tip reported by each node",
	}, []string{"node"})

	HeadersFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkwatch_headers_fetched_total",
		Help: "New headers fetched from each node and added to the tree",
	}, []string{"node"})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkwatch_poll_errors_total",
		Help: "Failed polls per node and error kind",
	}, []string{"node", "kind"})

	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forkwatch_poll_duration_seconds",
		Help:    "Time taken by one poll of a node",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"node"})
)
