package cachestore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CacheStore interface {
	// Returns empty string on cache miss
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmod_cache_lookups",
	Help: "Number of cache lookups, by cache name and result",
}, []string{"name", "result"})

func countLookup(name string, hit bool) {
	if hit {
		cacheLookups.WithLabelValues(name, "hit").Inc()
	} else {
		cacheLookups.WithLabelValues(name, "miss").Inc()
	}
}
