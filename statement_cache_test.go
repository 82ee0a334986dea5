package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewStatementCache(2)
	a, b, d := &Statement{SQL: "a"}, &Statement{SQL: "b"}, &Statement{SQL: "d"}

	c.Put("a", a)
	c.Put("b", b)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	c.Put("d", d)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(3), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, 75.0, stats["hit_rate"])
}

func TestStatementCacheReplace(t *testing.T) {
	c := NewStatementCache(2)
	c.Put("a", &Statement{SQL: "old"})
	c.Put("a", &Statement{SQL: "new"})
	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", got.SQL)
}

func TestStatementCacheDisable(t *testing.T) {
	c := NewStatementCache(4)
	c.Put("a", &Statement{})
	c.Disable()
	assert.Equal(t, 0, c.Len())
	c.Put("a", &Statement{})
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Enable()
	c.Put("a", &Statement{})
	_, ok = c.Get("a")
	assert.True(t, ok)

	off := NewStatementCache(0)
	off.Put("a", &Statement{})
	off.Enable()
	_, ok = off.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, off.Len())
	assert.Equal(t, 0, off.GetStats()["size"])
}

func TestStatementCacheFromEnv(t *testing.T) {
	t.Setenv("SHARDING_STATEMENT_CACHE_SIZE", "3")
	assert.Equal(t, 3, NewStatementCacheFromEnv().GetStats()["max_size"])

	t.Setenv("SHARDING_STATEMENT_CACHE_SIZE", "lots")
	assert.Equal(t, DefaultStatementCacheSize, NewStatementCacheFromEnv().GetStats()["max_size"])
}

func TestBinderUsesCache(t *testing.T) {
	cache := NewStatementCache(8)
	b := NewBinder(EnginePostgreSQL, cache)
	assert.Equal(t, EnginePostgreSQL, b.Engine())

	first, err := b.Bind("SELECT * FROM t_order WHERE user_id = $1")
	require.NoError(t, err)
	second, err := b.Bind("SELECT * FROM t_order WHERE user_id = $1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())

	_, err = b.Bind("SELECT * FROM")
	assert.ErrorIs(t, err, ErrUnsupportedStatement)
	assert.Equal(t, 1, cache.Len())
}
