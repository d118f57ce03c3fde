package stmtcache_test

import (
	"testing"

	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := stmtcache.NewLRUCache(2)
	require.Equal(t, 0, c.Len())
	require.Equal(t, 2, c.Cap())

	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "s1"})
	c.Put(&stmtcache.StatementDescription{SQL: "select 2", Name: "s2"})
	require.Equal(t, 2, c.Len())

	c.Put(&stmtcache.StatementDescription{SQL: "select 3", Name: "s3"})
	require.Equal(t, 2, c.Len())
	require.Nil(t, c.Get("select 1"))
	require.NotNil(t, c.Get("select 2"))
	require.NotNil(t, c.Get("select 3"))

	invalidated := c.HandleInvalidated()
	require.Len(t, invalidated, 1)
	require.Equal(t, "select 1", invalidated[0].SQL)
}

func TestLRUCacheGetPromotesToFront(t *testing.T) {
	c := stmtcache.NewLRUCache(2)
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "s1"})
	c.Put(&stmtcache.StatementDescription{SQL: "select 2", Name: "s2"})

	c.Get("select 1") // touch, making "select 2" the least recently used

	c.Put(&stmtcache.StatementDescription{SQL: "select 3", Name: "s3"})
	require.NotNil(t, c.Get("select 1"))
	require.Nil(t, c.Get("select 2"))
	require.NotNil(t, c.Get("select 3"))
}

func TestLRUCachePutIgnoresDuplicate(t *testing.T) {
	c := stmtcache.NewLRUCache(4)
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "first"})
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "second"})
	require.Equal(t, 1, c.Len())
	require.Equal(t, "first", c.Get("select 1").Name)
}

func TestLRUCacheInvalidate(t *testing.T) {
	c := stmtcache.NewLRUCache(4)
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "s1"})
	c.Invalidate("select 1")
	require.Equal(t, 0, c.Len())
	require.Nil(t, c.Get("select 1"))

	// Re-adding before HandleInvalidated is called is ignored.
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "s1-again"})
	require.Equal(t, 0, c.Len())

	invalidated := c.HandleInvalidated()
	require.Len(t, invalidated, 1)
}

func TestLRUCacheInvalidateAll(t *testing.T) {
	c := stmtcache.NewLRUCache(4)
	c.Put(&stmtcache.StatementDescription{SQL: "select 1", Name: "s1"})
	c.Put(&stmtcache.StatementDescription{SQL: "select 2", Name: "s2"})
	c.InvalidateAll()
	require.Equal(t, 0, c.Len())
	require.Len(t, c.HandleInvalidated(), 2)
}

func TestLRUCachePutPanicsOnEmptySQL(t *testing.T) {
	c := stmtcache.NewLRUCache(4)
	require.Panics(t, func() {
		c.Put(&stmtcache.StatementDescription{SQL: "", Name: "s1"})
	})
}
