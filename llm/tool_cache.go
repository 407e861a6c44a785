package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ToolCache memoizes tool results so repeated calls within a TTL (a model
// searching the same query twice, for instance) skip the handler.
type ToolCache struct {
	mu      sync.Mutex
	entries map[string]cachedToolResult
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
	now     func() time.Time
}

type cachedToolResult struct {
	result any
	err    error
	stored time.Time
}

// NewToolCache creates a tool result cache with the given TTL and max size.
func NewToolCache(ttl time.Duration, maxSize int) *ToolCache {
	return &ToolCache{
		entries: make(map[string]cachedToolResult),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// cacheKey hashes the tool name and its JSON-encoded arguments. Map keys
// are sorted by encoding/json, so equal arguments give equal keys.
func cacheKey(name string, args map[string]any) (string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", name, err)
	}
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(argsJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get retrieves a cached result if present and not expired.
func (tc *ToolCache) Get(name string, args map[string]any) (any, error, bool) {
	key, err := cacheKey(name, args)
	if err != nil {
		return nil, nil, false
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	e, ok := tc.entries[key]
	if !ok || tc.now().Sub(e.stored) > tc.ttl {
		if ok {
			delete(tc.entries, key)
		}
		tc.misses++
		return nil, nil, false
	}
	tc.hits++
	return e.result, e.err, true
}

// Set stores a tool execution result, evicting the oldest entry when full.
func (tc *ToolCache) Set(name string, args map[string]any, result any, err error) {
	key, keyErr := cacheKey(name, args)
	if keyErr != nil {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.entries[key]; !exists && len(tc.entries) >= tc.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range tc.entries {
			if oldestKey == "" || v.stored.Before(oldest) {
				oldestKey, oldest = k, v.stored
			}
		}
		delete(tc.entries, oldestKey)
	}
	tc.entries[key] = cachedToolResult{result: result, err: err, stored: tc.now()}
}

// Len returns the number of cached entries, expired ones included.
func (tc *ToolCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.entries)
}

// Stats returns cache hit/miss statistics.
func (tc *ToolCache) Stats() (hits, misses int64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.hits, tc.misses
}

// Clear removes all cached entries and resets the statistics.
func (tc *ToolCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.entries = make(map[string]cachedToolResult)
	tc.hits = 0
	tc.misses = 0
}
