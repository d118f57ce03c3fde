package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/oxleaf/pgwire/transport"
	"github.com/stretchr/testify/require"
)

func TestTransportReadWriteRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ct := transport.New(client)

	go func() {
		buf := make([]byte, 5)
		server.Read(buf)
		server.Write(buf)
	}()

	_, err := ct.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := ct.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestTransportWatchContextAbortsBlockedRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ct := transport.New(client)

	ctx, cancel := context.WithCancel(context.Background())
	ct.WatchContext(ctx)
	defer ct.UnwatchContext()

	errChan := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := ct.Read(buf)
		errChan <- err
	}()

	cancel()

	select {
	case err := <-errChan:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("read was not interrupted by context cancellation")
	}
}
