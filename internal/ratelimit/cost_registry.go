// Package ratelimit meters YouTube Data API quota units across instances.
package ratelimit

import (
	"sort"
	"sync"
)

// DefaultCost is charged for resources the registry does not know.
const DefaultCost = 1

// Data API list costs in quota units.
const (
	CostVideosList        = 1
	CostChannelsList      = 1
	CostPlaylistItemsList = 1
	CostSearchList        = 100
)

// Data API resource names
const (
	ResourceVideos        = "videos"
	ResourceChannels      = "channels"
	ResourcePlaylistItems = "playlistItems"
	ResourceSearch        = "search"
)

// CostRegistry maps Data API resources to their quota cost.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CostRegistryConfig holds configuration for the registry.
type CostRegistryConfig struct {
	// DefaultCost is charged for unknown resources. Zero uses DefaultCost.
	DefaultCost int

	// Overrides replace or extend the built-in costs.
	Overrides map[string]int
}

// NewCostRegistry creates a registry with the published Data API costs.
// A nil cfg uses the defaults.
func NewCostRegistry(cfg *CostRegistryConfig) *CostRegistry {
	costs := map[string]int{
		ResourceVideos:        CostVideosList,
		ResourceChannels:      CostChannelsList,
		ResourcePlaylistItems: CostPlaylistItemsList,
		ResourceSearch:        CostSearchList,
	}

	defaultCost := DefaultCost
	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for resource, cost := range cfg.Overrides {
			if cost > 0 {
				costs[resource] = cost
			}
		}
	}

	return &CostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// Cost returns the quota cost of one list call on resource
func (r *CostRegistry) Cost(resource string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[resource]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of a resource. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(resource string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[resource] = cost
}

// DefaultCost returns the cost charged for unknown resources
func (r *CostRegistry) DefaultCost() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultCost
}

// KnownResources returns the registered resource names in sorted order
func (r *CostRegistry) KnownResources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]string, 0, len(r.costs))
	for resource := range r.costs {
		resources = append(resources, resource)
	}
	sort.Strings(resources)
	return resources
}
