package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	offerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerdesk_offer_runs_total",
		Help: "Offer generation runs by result.",
	}, []string{"result"})

	offerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offerdesk_offer_run_duration_seconds",
		Help:    "Wall time of one offer generation run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	offersGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offerdesk_offers_generated_total",
		Help: "Offers created and emailed.",
	})

	offerSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerdesk_offer_skips_total",
		Help: "Users skipped by reason.",
	}, []string{"reason"})

	offerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerdesk_offer_failures_total",
		Help: "Per-user offer failures by pipeline stage.",
	}, []string{"stage"})
)
