package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatmod_retention_deleted",
	Help: "Number of activation records deleted by retention cleanup",
})

var profilesPushed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatmod_profiles_pushed",
	Help: "Number of profile snapshots received from the profile store",
})
