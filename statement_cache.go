package sharding

import (
	"os"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStatementCacheSize is used when SHARDING_STATEMENT_CACHE_SIZE is not
// set.
const DefaultStatementCacheSize = 1000

// StatementCache keeps bound statements by SQL text, evicting the least
// recently used one when full.
type StatementCache struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Statement]
	maxSize  int
	hits     int64
	misses   int64
	disabled bool
}

// NewStatementCache creates a cache holding up to maxSize statements. A size
// of zero or less disables it.
func NewStatementCache(maxSize int) *StatementCache {
	c := &StatementCache{maxSize: maxSize, disabled: true}
	if maxSize > 0 {
		// lru.New only fails for a non-positive size
		c.cache, _ = lru.New[string, *Statement](maxSize)
		c.disabled = false
	}
	return c
}

// NewStatementCacheFromEnv sizes the cache from SHARDING_STATEMENT_CACHE_SIZE.
func NewStatementCacheFromEnv() *StatementCache {
	size := DefaultStatementCacheSize
	if s := os.Getenv("SHARDING_STATEMENT_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			size = n
		}
	}
	return NewStatementCache(size)
}

func (c *StatementCache) Get(sql string) (*Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return nil, false
	}
	if stmt, ok := c.cache.Get(sql); ok {
		c.hits++
		return stmt, true
	}
	c.misses++
	return nil, false
}

func (c *StatementCache) Put(sql string, stmt *Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return
	}
	c.cache.Add(sql, stmt)
}

func (c *StatementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *StatementCache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *StatementCache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = c.cache == nil
}

// GetStats returns cache statistics
func (c *StatementCache) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	total := c.hits + c.misses
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100.0
	}
	size := 0
	if c.cache != nil {
		size = c.cache.Len()
	}

	return map[string]interface{}{
		"size":     size,
		"max_size": c.maxSize,
		"hits":     c.hits,
		"misses":   c.misses,
		"hit_rate": hitRate,
	}
}
