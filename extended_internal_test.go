package pgwire

import (
	"testing"

	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/stretchr/testify/require"
)

func newDecidePrepareConn(threshold int) *Conn {
	cfg := &Config{PrepareThreshold: threshold}
	return &Conn{
		cfg:        cfg,
		stmtCache:  stmtcache.NewLRUCache(512),
		execCounts: make(map[string]int),
	}
}

func TestDecidePrepareZeroThresholdAlwaysOneshot(t *testing.T) {
	c := newDecidePrepareConn(0)
	for i := 0; i < 10; i++ {
		require.Equal(t, decisionOneshot, c.decidePrepare("select 1"))
	}
	require.Equal(t, 0, c.execCounts["select 1"])
}

func TestDecidePrepareNegativeThresholdAlwaysOneshotBinary(t *testing.T) {
	c := newDecidePrepareConn(-1)
	for i := 0; i < 10; i++ {
		require.Equal(t, decisionOneshotBinary, c.decidePrepare("select 1"))
	}
}

func TestDecidePrepareNoStatementCacheAlwaysOneshot(t *testing.T) {
	c := &Conn{cfg: &Config{PrepareThreshold: 5}, execCounts: make(map[string]int)}
	for i := 0; i < 10; i++ {
		require.Equal(t, decisionOneshot, c.decidePrepare("select 1"))
	}
}

func TestDecidePreparePromotesAtThreshold(t *testing.T) {
	c := newDecidePrepareConn(5)
	sql := "select 1"

	for i := 1; i < 5; i++ {
		require.Equal(t, decisionOneshot, c.decidePrepare(sql), "call %d should stay one-shot", i)
	}
	require.Equal(t, decisionPrepared, c.decidePrepare(sql), "5th call should promote to prepared")

	c.stmtCache.Put(&stmtcache.StatementDescription{Name: stmtcache.StatementName(sql), SQL: sql})
	for i := 0; i < 5; i++ {
		require.Equal(t, decisionPrepared, c.decidePrepare(sql), "cached statement should always decide prepared")
	}
}

func TestDecidePrepareThresholdOnePreparesImmediately(t *testing.T) {
	c := newDecidePrepareConn(1)
	sql := "select 1"
	require.Equal(t, decisionPrepared, c.decidePrepare(sql))
	require.Equal(t, decisionPrepared, c.decidePrepare(sql))
}

func TestDecidePrepareCountsAreIndependentPerSQLText(t *testing.T) {
	c := newDecidePrepareConn(2)
	require.Equal(t, decisionOneshot, c.decidePrepare("select 1"))
	require.Equal(t, decisionOneshot, c.decidePrepare("select 2"))
	require.Equal(t, decisionPrepared, c.decidePrepare("select 1"))
	require.Equal(t, decisionPrepared, c.decidePrepare("select 2"))
	require.Equal(t, decisionPrepared, c.decidePrepare("select 2"))
}
