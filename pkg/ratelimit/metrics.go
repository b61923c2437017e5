package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valuerank_limiter_admitted_total",
		Help: "Calls admitted past the rate limiter.",
	}, []string{"limiter"})

	metricCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valuerank_limiter_completed_total",
		Help: "Calls finished after admission, by outcome.",
	}, []string{"limiter", "outcome"})

	metricRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valuerank_limiter_running",
		Help: "Calls currently holding an execution slot.",
	}, []string{"limiter"})

	metricQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valuerank_limiter_queued",
		Help: "Calls waiting for admission.",
	}, []string{"limiter"})
)
