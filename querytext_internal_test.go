package pgwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReturningStar(t *testing.T) {
	require.Equal(t, "INSERT INTO t (a) VALUES ($1) RETURNING *", appendReturning("INSERT INTO t (a) VALUES ($1)", nil))
}

func TestAppendReturningColumns(t *testing.T) {
	got := appendReturning("INSERT INTO t (a) VALUES ($1)", []string{"id", "created_at"})
	require.Equal(t, "INSERT INTO t (a) VALUES ($1) RETURNING id, created_at", got)
}

func TestAppendReturningNoOpWhenAlreadyPresent(t *testing.T) {
	sql := "INSERT INTO t (a) VALUES ($1) RETURNING id"
	require.Equal(t, sql, appendReturning(sql, []string{"other"}))
}

func TestAppendReturningTrimsTrailingSemicolon(t *testing.T) {
	got := appendReturning("INSERT INTO t (a) VALUES ($1); \n", nil)
	require.Equal(t, "INSERT INTO t (a) VALUES ($1) RETURNING *", got)
}

func TestWillHealOnRetrySingleSelect(t *testing.T) {
	require.True(t, willHealOnRetry("SELECT * FROM t WHERE id = $1"))
	require.True(t, willHealOnRetry("WITH x AS (SELECT 1) SELECT * FROM x"))
}

func TestWillHealOnRetryRejectsDML(t *testing.T) {
	require.False(t, willHealOnRetry("UPDATE t SET a = 1"))
	require.False(t, willHealOnRetry("INSERT INTO t (a) VALUES ($1)"))
	require.False(t, willHealOnRetry("DELETE FROM t"))
}

func TestWillHealOnRetryRejectsMultipleStatements(t *testing.T) {
	require.False(t, willHealOnRetry("SELECT 1; SELECT 2"))
}

func TestSplitStatementsRewritesPlaceholdersAndClassifies(t *testing.T) {
	subs := SplitStatements("INSERT INTO t (a, b) VALUES (?, ?); SELECT * FROM t WHERE a = ?")
	require.Len(t, subs, 2)

	require.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", subs[0].SQL)
	require.Equal(t, 2, subs[0].ParamCount)
	require.Equal(t, StatementInsert, subs[0].Kind)
	require.False(t, subs[0].HasReturning)

	require.Equal(t, "SELECT * FROM t WHERE a = $1", subs[1].SQL)
	require.Equal(t, 1, subs[1].ParamCount)
	require.Equal(t, StatementSelect, subs[1].Kind)
}

func TestSplitStatementsIgnoresJSONBOperators(t *testing.T) {
	subs := SplitStatements("SELECT * FROM t WHERE data ?? 'key' AND data ?| array['a','b'] AND other = ?")
	require.Len(t, subs, 1)
	require.Equal(t, "SELECT * FROM t WHERE data ?? 'key' AND data ?| array['a','b'] AND other = $1", subs[0].SQL)
	require.Equal(t, 1, subs[0].ParamCount)
}

func TestSplitStatementsDetectsReturningClause(t *testing.T) {
	subs := SplitStatements("INSERT INTO t (a) VALUES (?) RETURNING id")
	require.Len(t, subs, 1)
	require.True(t, subs[0].HasReturning)
	require.Equal(t, "INSERT INTO t (a) VALUES ($1) RETURNING id", subs[0].SQL)
}

func TestSplitStatementsLeavesSemicolonsInsideStringLiteralsAlone(t *testing.T) {
	subs := SplitStatements("SELECT 'a;b' FROM t; SELECT 2")
	require.Len(t, subs, 2)
	require.Equal(t, "SELECT 'a;b' FROM t", subs[0].SQL)
	require.Equal(t, "SELECT 2", subs[1].SQL)
}

func TestClassifyStatementDDL(t *testing.T) {
	subs := SplitStatements("CREATE TABLE t (a int)")
	require.Len(t, subs, 1)
	require.Equal(t, StatementDDL, subs[0].Kind)
}
