package server

import (
	"fmt"
	"math"
	"sync"

	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/charmbracelet/log"
)

// ResultCache keeps the most recently used search results. Keys include the
// index generation, so results from a replaced index are never served.
type ResultCache struct {
	entries     map[string][]symbols.ResultGroup
	accessTime  map[string]int64
	accessCount int64
	hits        int64
	misses      int64
	maxEntries  int
	mu          sync.Mutex
}

// NewResultCache creates a cache; maxEntries <= 0 disables it.
func NewResultCache(maxEntries int) *ResultCache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &ResultCache{
		entries:    make(map[string][]symbols.ResultGroup, maxEntries),
		accessTime: make(map[string]int64, maxEntries),
		maxEntries: maxEntries,
	}
}

func cacheKey(generation uint64, query string, limit int) string {
	return fmt.Sprintf("%d\x00%d\x00%s", generation, limit, query)
}

// Get returns cached groups. Callers must not modify them.
func (rc *ResultCache) Get(key string) ([]symbols.ResultGroup, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	groups, ok := rc.entries[key]
	if !ok {
		rc.misses++
		return nil, false
	}
	rc.hits++
	rc.accessTime[key] = rc.nextAccessTime()
	return groups, true
}

// Put stores groups, evicting the least recently used key when full.
func (rc *ResultCache) Put(key string, groups []symbols.ResultGroup) {
	if rc.maxEntries == 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.entries[key]; !exists && len(rc.entries) >= rc.maxEntries {
		rc.evictLRU()
	}
	rc.entries[key] = groups
	rc.accessTime[key] = rc.nextAccessTime()
}

// Purge drops every entry.
func (rc *ResultCache) Purge() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clear(rc.entries)
	clear(rc.accessTime)
}

func (rc *ResultCache) Stats() map[string]int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return map[string]int{
		"cacheEntries": len(rc.entries),
		"maxEntries":   rc.maxEntries,
		"cacheHits":    int(rc.hits),
		"cacheMisses":  int(rc.misses),
	}
}

func (rc *ResultCache) nextAccessTime() int64 {
	rc.accessCount++
	return rc.accessCount
}

func (rc *ResultCache) evictLRU() {
	var oldestKey string
	var oldestTime int64 = math.MaxInt64

	for key, t := range rc.accessTime {
		if t < oldestTime {
			oldestTime = t
			oldestKey = key
		}
	}

	if oldestTime != math.MaxInt64 {
		delete(rc.entries, oldestKey)
		delete(rc.accessTime, oldestKey)
		log.Debugf("Evicted query %q from result cache", oldestKey)
	}
}
