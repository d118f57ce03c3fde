package pgwire_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/oxleaf/pgwire"
	"github.com/oxleaf/pgwire/internal/pgmock"
	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T, ln net.Listener, script *pgmock.Script) chan error {
	t.Helper()
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		conn, err := ln.Accept()
		if err != nil {
			errChan <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		errChan <- script.Run(pgproto3.NewBackend(conn, conn))
	}()
	return errChan
}

func dialConfig(t *testing.T, addr string) *pgwire.Config {
	t.Helper()
	host, port, _ := strings.Cut(addr, ":")
	cfg, err := pgwire.ParseConfig(fmt.Sprintf("sslmode=disable host=%s port=%s user=test database=test", host, port))
	require.NoError(t, err)
	return cfg
}

func TestConnectAndSimpleQuery(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptUnauthenticatedConnRequestSteps()}
	script.Steps = append(script.Steps,
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 42"}),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
			{Name: []byte("?column?"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
		}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("42")}}),
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

	mrr, err := conn.Exec(ctx, "select 42")
	require.NoError(t, err)

	require.True(t, mrr.NextResult())
	rr := mrr.ResultReader()
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("42")}, rr.Values())
	require.False(t, rr.NextRow())
	require.NoError(t, rr.Err())
	require.Equal(t, "SELECT 1", rr.CommandTag())

	require.False(t, mrr.NextResult())
	require.NoError(t, mrr.Close())

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

func TestConnectCleartextPassword(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptPasswordAuthConnRequestSteps()}
	script.Steps = append(script.Steps, pgmock.ExpectMessage(&pgproto3.Terminate{}))

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dialConfig(t, ln.Addr().String())
	cfg.Password = "s3kr1t"

	conn, err := pgwire.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

func TestConnectSCRAM256(t *testing.T) {
	const password = "correct-horse-battery-staple"
	script := &pgmock.Script{Steps: pgmock.AcceptSCRAMConnRequestSteps(password)}
	script.Steps = append(script.Steps, pgmock.ExpectMessage(&pgproto3.Terminate{}))

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dialConfig(t, ln.Addr().String())
	cfg.Password = password

	conn, err := pgwire.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, <-errChan)
}

func TestConnectSCRAM256WrongPassword(t *testing.T) {
	script := &pgmock.Script{Steps: pgmock.AcceptSCRAMConnRequestSteps("the-real-password")}

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	errChan := runServer(t, ln, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dialConfig(t, ln.Addr().String())
	cfg.Password = "not-the-real-password"

	_, err = pgwire.Connect(ctx, cfg)
	require.Error(t, err)
	<-errChan
}
