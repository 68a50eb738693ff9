package adapter

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/video-importer/internal/logging"
)

// Call outcomes recorded per endpoint
const (
	OutcomeSuccess      = "success"
	OutcomeCacheHit     = "cache_hit"
	OutcomeError        = "error"
	OutcomeHTTPError    = "http_error"
	OutcomeUnauthorized = "unauthorized"
)

// EndpointStats holds the counters of one endpoint
type EndpointStats struct {
	Endpoint     string        `json:"endpoint"`
	Calls        int64         `json:"calls"`
	TotalTime    time.Duration `json:"totalTime"`
	Errors       int64         `json:"errors"`
	CacheHits    int64         `json:"cacheHits"`
	AvgTime      time.Duration `json:"avgTime"`
	ErrorRate    float64       `json:"errorRate"`    // percent
	CacheHitRate float64       `json:"cacheHitRate"` // percent
}

// Metrics tracks call count, latency, errors and cache hits per endpoint
type Metrics struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointStats
}

// NewMetrics creates an empty metrics recorder
func NewMetrics() *Metrics {
	return &Metrics{endpoints: make(map[string]*EndpointStats)}
}

// Record adds one call to the endpoint's counters
func (m *Metrics) Record(endpoint string, elapsed time.Duration, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.endpoints[endpoint]
	if !ok {
		s = &EndpointStats{Endpoint: endpoint}
		m.endpoints[endpoint] = s
	}

	s.Calls++
	s.TotalTime += elapsed

	// unauthorized is counted as a call only.
	switch outcome {
	case OutcomeError, OutcomeHTTPError:
		s.Errors++
	case OutcomeCacheHit:
		s.CacheHits++
	}
}

// Snapshot returns the derived stats of every endpoint, sorted by name
func (m *Metrics) Snapshot() []EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EndpointStats, 0, len(m.endpoints))
	for _, s := range m.endpoints {
		stats := *s
		if stats.Calls > 0 {
			stats.AvgTime = stats.TotalTime / time.Duration(stats.Calls)
			stats.ErrorRate = round2(float64(stats.Errors) / float64(stats.Calls) * 100)
			stats.CacheHitRate = round2(float64(stats.CacheHits) / float64(stats.Calls) * 100)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Flush logs one line per endpoint and clears the counters
func (m *Metrics) Flush(logger *logging.Logger) {
	for _, s := range m.Snapshot() {
		logger.WithFields(map[string]interface{}{
			"endpoint":       s.Endpoint,
			"calls":          s.Calls,
			"avg_time":       math.Round(s.AvgTime.Seconds()*1000) / 1000,
			"error_rate":     s.ErrorRate,
			"cache_hit_rate": s.CacheHitRate,
		}).Info("API performance")
	}

	m.mu.Lock()
	m.endpoints = make(map[string]*EndpointStats)
	m.mu.Unlock()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
