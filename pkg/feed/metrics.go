package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts completed page fetches by outcome
	// (appended, refreshed, no_more_data, failed).
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giffun_feed_fetches_total",
			Help: "Total page fetches by outcome",
		},
		[]string{"outcome"},
	)

	// TriggersRejected counts load requests refused by the state gate.
	TriggersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giffun_feed_triggers_rejected_total",
			Help: "Load requests rejected by the load state gate",
		},
		[]string{"state"},
	)

	// LateResults counts fetch results dropped because their loader was closed.
	LateResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giffun_feed_late_results_total",
			Help: "Fetch results ignored because the owning loader was closed",
		},
	)

	// PageSize observes the number of items per fetched page.
	PageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "giffun_feed_page_items",
			Help:    "Items per fetched page",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)
)
