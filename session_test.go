package pgwire_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/oxleaf/pgwire"
	"github.com/oxleaf/pgwire/internal/pgmock"
	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/stretchr/testify/require"
)

// TestExecStatementAutocommitAndAutosave exercises spec §4.4's implicit
// BEGIN and savepoint-wrapped autosave: the first statement after
// connect opens a transaction (autocommit is off), and the second,
// issued while already inside that transaction, is wrapped in a
// SAVEPOINT that gets released on success.
func TestExecStatementAutocommitAndAutosave(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "BEGIN; SELECT 1"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("BEGIN")}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusInTransaction}),

		pgmock.ExpectMessage(&pgproto3.Query{String: "SAVEPOINT pgwire_autosave_1; SELECT 2"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SAVEPOINT")}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("2")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusInTransaction}),

		pgmock.ExpectMessage(&pgproto3.Query{String: "RELEASE SAVEPOINT pgwire_autosave_1"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("RELEASE")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusInTransaction}),

		pgmock.ExpectMessage(&pgproto3.Terminate{}),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dialConfig(t, ln.Addr().String())
	cfg.AutocommitOff = true
	cfg.Autosave = pgwire.AutosaveAlways

	conn, err := pgwire.Connect(ctx, cfg)
	require.NoError(t, err)

	mrr, err := conn.ExecStatement(ctx, "SELECT 1", false)
	require.NoError(t, err)
	require.True(t, mrr.NextResult())
	require.Equal(t, "BEGIN", mrr.ResultReader().CommandTag())
	require.True(t, mrr.NextResult())
	rr := mrr.ResultReader()
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("1")}, rr.Values())
	require.False(t, rr.NextRow())
	require.Equal(t, "SELECT 1", rr.CommandTag())
	require.False(t, mrr.NextResult())
	require.NoError(t, mrr.Close())

	mrr2, err := conn.ExecStatement(ctx, "SELECT 2", false)
	require.NoError(t, err)
	rr2 := mrr2.ResultReader()
	require.True(t, rr2.NextRow())
	require.Equal(t, [][]byte{[]byte("2")}, rr2.Values())
	require.False(t, rr2.NextRow())
	require.Equal(t, "SELECT 1", rr2.CommandTag())
	require.NoError(t, mrr2.Close())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

// TestWarningsAccumulate exercises spec §7's warning chain: a
// NoticeResponse sent while a query is running is recorded on the Conn
// and returned by Warnings until ClearWarnings is called.
func TestWarningsAccumulate(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
		pgmock.SendMessage(&pgproto3.NoticeResponse{Code: "01000", Message: "heads up"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),
		pgmock.ExpectMessage(&pgproto3.Terminate{}),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := pgwire.Connect(ctx, dialConfig(t, ln.Addr().String()))
	require.NoError(t, err)

	require.Empty(t, conn.Warnings())

	mrr, err := conn.Exec(ctx, "select 1")
	require.NoError(t, err)
	require.NoError(t, mrr.Close())

	warnings := conn.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, "heads up", warnings[0].Message)

	conn.ClearWarnings()
	require.Empty(t, conn.Warnings())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

// TestSendBatchRewritesInserts exercises Config.ReWriteBatchedInserts:
// a batch of identical single-row INSERT ... RETURNING items is
// coalesced into one multi-row INSERT on the wire, while BatchResults
// still hands back one result per original item, each carrying its own
// RETURNING row.
func TestSendBatchRewritesInserts(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{
			Query: "INSERT INTO t (a) VALUES ($1), ($2), ($3) RETURNING id",
		}),
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),

		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("id"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("2")}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("3")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("INSERT 0 3")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectMessage(&pgproto3.Terminate{}),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dialConfig(t, ln.Addr().String())
	cfg.ReWriteBatchedInserts = true

	conn, err := pgwire.Connect(ctx, cfg)
	require.NoError(t, err)

	batch := &pgwire.Batch{}
	batch.Queue("INSERT INTO t (a) VALUES ($1) RETURNING id", [][]byte{[]byte("a")}, nil)
	batch.Queue("INSERT INTO t (a) VALUES ($1) RETURNING id", [][]byte{[]byte("b")}, nil)
	batch.Queue("INSERT INTO t (a) VALUES ($1) RETURNING id", [][]byte{[]byte("c")}, nil)

	br := conn.SendBatch(ctx, batch)

	for i, want := range [][]byte{[]byte("1"), []byte("2"), []byte("3")} {
		rr := br.NextResult()
		require.NotNilf(t, rr, "result %d", i)
		require.True(t, rr.NextRow())
		require.Equal(t, [][]byte{want}, rr.Values())
	}
	require.Nil(t, br.NextResult())
	require.NoError(t, br.Err())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}
