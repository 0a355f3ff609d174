package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var triggersEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_triggers_evaluated",
	Help: "Number of trigger evaluations, by path and result",
}, []string{"path", "result"})

var triggersExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_triggers_executed",
	Help: "Number of executed triggers, by type and narrative outcome",
}, []string{"type", "narrative"})

var narrativeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chatmod_narrative_duration_sec",
	Help:    "Duration of narrative generator calls, including failures",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})
