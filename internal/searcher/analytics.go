package searcher

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

const topQueriesLimit = 10

// QueryCount is how often a query string was seen
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// AnalyticsSnapshot is a point-in-time copy of query statistics
type AnalyticsSnapshot struct {
	TotalQueries        int64         `json:"totalQueries"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	CacheHits           int64         `json:"cacheHits"`
	CacheHitRate        float64       `json:"cacheHitRate"`
	DegradedQueries     int64         `json:"degradedQueries"`
	TopQueries          []QueryCount  `json:"topQueries"`
}

type analytics struct {
	mu        sync.Mutex
	total     int64
	hits      int64
	degraded  int64
	meanNanos float64
	freq      map[string]int
}

func newAnalytics() *analytics {
	return &analytics{freq: make(map[string]int)}
}

func (a *analytics) record(query string, elapsed time.Duration, hit, degraded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.meanNanos += (float64(elapsed) - a.meanNanos) / float64(a.total)
	a.freq[query]++
	if hit {
		a.hits++
	}
	if degraded {
		a.degraded++
	}
}

func (a *analytics) snapshot(limit int) AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := AnalyticsSnapshot{
		TotalQueries:        a.total,
		AverageResponseTime: time.Duration(a.meanNanos),
		CacheHits:           a.hits,
		DegradedQueries:     a.degraded,
		TopQueries:          make([]QueryCount, 0, len(a.freq)),
	}
	if a.total > 0 {
		snap.CacheHitRate = float64(a.hits) / float64(a.total)
	}
	for q, n := range a.freq {
		snap.TopQueries = append(snap.TopQueries, QueryCount{Query: q, Count: n})
	}
	sort.Slice(snap.TopQueries, func(i, j int) bool {
		if snap.TopQueries[i].Count != snap.TopQueries[j].Count {
			return snap.TopQueries[i].Count > snap.TopQueries[j].Count
		}
		return snap.TopQueries[i].Query < snap.TopQueries[j].Query
	})
	if len(snap.TopQueries) > limit {
		snap.TopQueries = snap.TopQueries[:limit]
	}
	return snap
}

// cacheKey hashes the query together with its resolved options
func cacheKey(query string, opts Options) ([32]byte, error) {
	data, err := json.Marshal(struct {
		Query   string  `json:"query"`
		Options Options `json:"options"`
	}{query, opts})
	if err != nil {
		return [32]byte{}, fmt.Errorf("cache key: %w", err)
	}
	return sha256.Sum256(data), nil
}
