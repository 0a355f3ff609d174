package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_actions_processed",
	Help: "Number of chat actions processed, by kind and flood guard action",
}, []string{"kind", "action"})

var triggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_triggers_fired",
	Help: "Number of adversarial triggers fired by the engine, by type",
}, []string{"type"})
