// Package cache provides implementations of the engine's aggregate cache:
// an in-process one for single-node deployments and a Redis one for
// horizontally scaled setups.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pathlight/contextd/internal/engine"
)

// Memory is an in-process TTL cache of assembled contexts.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates an in-process cache. Expired entries are swept at twice
// the default TTL.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

// Get implements engine.Cache.
func (m *Memory) Get(key string) (engine.AggregatedContext, bool) {
	if v, found := m.c.Get(key); found {
		if agg, ok := v.(engine.AggregatedContext); ok {
			return agg, true
		}
	}
	return engine.AggregatedContext{}, false
}

// Set implements engine.Cache.
func (m *Memory) Set(key string, value engine.AggregatedContext, ttl time.Duration) {
	m.c.Set(key, value, ttl)
}
