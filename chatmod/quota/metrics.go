package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var quotaChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_quota_checks",
	Help: "Number of activation quota checks, by result",
}, []string{"result"})

var activationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_activations_recorded",
	Help: "Number of trigger activations durably recorded",
}, []string{"type"})

var activationRecordFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatmod_activation_record_failures",
	Help: "Number of trigger activations which failed to persist",
})
