package pgwire_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/oxleaf/pgwire"
	"github.com/oxleaf/pgwire/internal/pgmock"
	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/stretchr/testify/require"
)

// TestPortalSuspension exercises spec §8 scenario 2: a server cursor
// whose fetch hits its row limit before the underlying statement is
// exhausted reports PortalSuspended, and a further fetch on the same
// portal picks up where the last one left off.
func TestPortalSuspension(t *testing.T) {
	const sql = "SELECT n FROM generate_series(1,3) n"
	const portalName = "cur1"
	stmtName := stmtcache.StatementName(sql)

	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{Name: stmtName, Query: sql}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'S', Name: stmtName}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("n"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectMessage(&pgproto3.Execute{Portal: portalName, MaxRows: 2}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("2")}}),
		pgmock.SendMessage(&pgproto3.PortalSuspended{}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectMessage(&pgproto3.Execute{Portal: portalName, MaxRows: 2}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("3")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 3")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectMessage(&pgproto3.Close{ObjectType: 'P', Name: portalName}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.CloseComplete{}),
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

	portal, err := conn.DeclarePortal(ctx, portalName, sql, nil, nil)
	require.NoError(t, err)

	rr, err := portal.FetchRows(ctx, 2)
	require.NoError(t, err)
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("1")}, rr.Values())
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("2")}, rr.Values())
	require.False(t, rr.NextRow())
	require.NoError(t, rr.Err())
	require.True(t, rr.Suspended())

	rr2, err := portal.FetchRows(ctx, 2)
	require.NoError(t, err)
	require.True(t, rr2.NextRow())
	require.Equal(t, [][]byte{[]byte("3")}, rr2.Values())
	require.False(t, rr2.NextRow())
	require.NoError(t, rr2.Err())
	require.False(t, rr2.Suspended())
	require.Equal(t, "SELECT 3", rr2.CommandTag())

	require.NoError(t, portal.Close(ctx))
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

// TestCancelRequestDuringExecution exercises spec §8 scenario 3:
// CancelRequest opens a second connection carrying the backend's
// process ID and secret key, and returns once the request has been
// sent, without disturbing the original connection's own traffic.
func TestCancelRequestDuringExecution(t *testing.T) {
	mainScript := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	mainScript.Steps = append(mainScript.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select pg_sleep(1)"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("pg_sleep"), DataTypeOID: 2278, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: pgwire.SQLStateQueryCanceled, Message: "canceling statement due to user request"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),
		pgmock.ExpectMessage(&pgproto3.Terminate{}),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()

	cancelReceived := make(chan *pgproto3.CancelRequest, 1)
	acceptErr := make(chan error, 2)
	mainAccepted := make(chan struct{})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		close(mainAccepted)
		acceptErr <- mainScript.Run(pgproto3.NewBackend(conn, conn))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := pgwire.Connect(ctx, dialConfig(t, ln.Addr().String()))
	require.NoError(t, err)

	mrr, err := conn.Exec(ctx, "select pg_sleep(1)")
	require.NoError(t, err)

	// The main connection is already accepted, so a second Accept call
	// is unambiguously waiting for the cancel connection that
	// CancelRequest is about to open on the same listener.
	<-mainAccepted
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		backend := pgproto3.NewBackend(conn, conn)
		req, err := backend.ReceiveStartupMessage()
		if err != nil {
			acceptErr <- err
			return
		}
		cr, ok := req.(*pgproto3.CancelRequest)
		if !ok {
			acceptErr <- fmt.Errorf("unexpected startup message %#v", req)
			return
		}
		cancelReceived <- cr
		acceptErr <- nil
	}()

	require.NoError(t, conn.CancelRequest(ctx))

	select {
	case cr := <-cancelReceived:
		require.Equal(t, conn.PID(), cr.ProcessID)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel request never reached the server")
	}

	err = mrr.Close()
	var pgErr *pgwire.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, pgwire.SQLStateQueryCanceled, pgErr.Code)

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-acceptErr)
	require.NoError(t, <-acceptErr)
}

// TestBatchMidBatchFailureDrainsAndUnlocks exercises spec §8 scenario 4:
// once one item in a pipelined batch errors, the server silently
// discards every remaining pipelined item until Sync. NextResult must
// drain those discarded items and the trailing ReadyForQuery itself so
// the Conn is usable again afterward, rather than deadlocking.
func TestBatchMidBatchFailureDrainsAndUnlocks(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Parse{Query: "INSERT INTO t (a) VALUES ($1)"}),
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),

		pgmock.ExpectMessage(&pgproto3.Parse{Query: "INSERT INTO t (a) VALUES ($1)"}),
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),

		pgmock.ExpectMessage(&pgproto3.Parse{Query: "INSERT INTO t (a) VALUES ($1)"}),
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),

		pgmock.ExpectMessage(&pgproto3.Sync{}),

		// item 1 succeeds
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("INSERT 0 1")}),
		// item 2 errors; item 3 is silently discarded, no messages for it
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: pgwire.SQLStateUniqueViolation, Message: "duplicate key"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
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

	batch := &pgwire.Batch{}
	batch.Queue("INSERT INTO t (a) VALUES ($1)", [][]byte{[]byte("a")}, nil)
	batch.Queue("INSERT INTO t (a) VALUES ($1)", [][]byte{[]byte("b")}, nil)
	batch.Queue("INSERT INTO t (a) VALUES ($1)", [][]byte{[]byte("c")}, nil)

	br := conn.SendBatch(ctx, batch)

	rr1 := br.NextResult()
	require.NotNil(t, rr1)
	require.False(t, rr1.NextRow())
	require.NoError(t, rr1.Err())
	require.Equal(t, "INSERT 0 1", rr1.CommandTag())

	rr2 := br.NextResult()
	require.NotNil(t, rr2)
	require.False(t, rr2.NextRow())
	var pgErr *pgwire.PgError
	require.ErrorAs(t, rr2.Err(), &pgErr)
	require.Equal(t, pgwire.SQLStateUniqueViolation, pgErr.Code)

	require.Nil(t, br.NextResult())
	require.Error(t, br.Err())

	// The Conn must be unlocked and the wire drained: a further
	// operation on the same Conn must succeed.
	mrr, err := conn.Exec(ctx, "select 1")
	require.NoError(t, err)
	require.True(t, mrr.NextResult())
	rr := mrr.ResultReader()
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("1")}, rr.Values())
	require.NoError(t, mrr.Close())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

// TestCachedPlanInvalidationRetries exercises spec §8 scenario 6: a
// cached plan rejected by the server with SQLSTATE 0A000 triggers a
// DEALLOCATE ALL cache flush and a single transparent retry of the
// statement, which then succeeds.
func TestCachedPlanInvalidationRetries(t *testing.T) {
	const sql = "SELECT 1"
	stmtName := stmtcache.StatementName(sql)

	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		// Prepare
		pgmock.ExpectMessage(&pgproto3.Parse{Name: stmtName, Query: sql}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'S', Name: stmtName}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		// Bind/Execute fails with a cached-plan invalidation
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.ErrorResponse{Severity: "ERROR", Code: pgwire.SQLStateFeatureNotSupported, Message: "cached plan must not change result type"}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		// Cache flush
		pgmock.ExpectMessage(&pgproto3.Query{String: "DEALLOCATE ALL"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("DEALLOCATE ALL")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		// Re-prepare
		pgmock.ExpectMessage(&pgproto3.Parse{Name: stmtName, Query: sql}),
		pgmock.ExpectMessage(&pgproto3.Describe{ObjectType: 'S', Name: stmtName}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.ParseComplete{}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),

		// Retry succeeds
		pgmock.ExpectAnyMessage(&pgproto3.Bind{}),
		pgmock.ExpectAnyMessage(&pgproto3.Describe{}),
		pgmock.ExpectAnyMessage(&pgproto3.Execute{}),
		pgmock.ExpectMessage(&pgproto3.Sync{}),
		pgmock.SendMessage(&pgproto3.BindComplete{}),
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

	cfg := dialConfig(t, ln.Addr().String())
	cfg.PrepareThreshold = 1
	cfg.BinaryTransfer = false

	conn, err := pgwire.Connect(ctx, cfg)
	require.NoError(t, err)

	rr, err := conn.QueryParams(ctx, sql, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("1")}, rr.Values())
	require.False(t, rr.NextRow())
	require.NoError(t, rr.Err())
	require.Equal(t, "SELECT 1", rr.CommandTag())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}
