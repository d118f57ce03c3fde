package pgwire

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/stretchr/testify/require"
)

// fakeGSSProvider drives a two-step negotiation: the first call (nil
// challenge) returns an initial token and reports the context isn't
// done, the second (given the server's continuation) completes it.
type fakeGSSProvider struct {
	calls [][]byte
}

func (f *fakeGSSProvider) InitSecContext(host string, challenge []byte) ([]byte, bool, error) {
	f.calls = append(f.calls, challenge)
	if challenge == nil {
		return []byte("init-token"), false, nil
	}
	return []byte("final-token"), true, nil
}

func (f *fakeGSSProvider) WrapConn(conn net.Conn) (net.Conn, error) { return conn, nil }

func readTaggedMessage(t *testing.T, r io.Reader) (byte, []byte) {
	t.Helper()
	var header [5]byte
	_, err := io.ReadFull(r, header[:])
	require.NoError(t, err)
	bodyLen := int(binary.BigEndian.Uint32(header[1:])) - 4
	body := make([]byte, bodyLen)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return header[0], body
}

func TestHandleGSSAuthCompletesTwoStepExchange(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	provider := &fakeGSSProvider{}
	c := &Conn{
		cfg:      &Config{GSSAPI: provider},
		frontend: pgproto3.NewFrontend(clientSide, clientSide),
	}

	serverErr := make(chan error, 1)
	go func() {
		tag, body := readTaggedMessage(t, serverSide)
		if tag != 'p' || string(body) != "init-token" {
			serverErr <- io.ErrUnexpectedEOF
			return
		}

		cont, err := (&pgproto3.Authentication{Type: pgproto3.AuthTypeGSSContinue, GSSAuthData: []byte("server-challenge")}).Encode(nil)
		if err != nil {
			serverErr <- err
			return
		}
		if _, err := serverSide.Write(cont); err != nil {
			serverErr <- err
			return
		}

		tag, body = readTaggedMessage(t, serverSide)
		if tag != 'p' || string(body) != "final-token" {
			serverErr <- io.ErrUnexpectedEOF
			return
		}

		ok, err := (&pgproto3.Authentication{Type: pgproto3.AuthTypeOk}).Encode(nil)
		if err != nil {
			serverErr <- err
			return
		}
		_, err = serverSide.Write(ok)
		serverErr <- err
	}()

	first := &pgproto3.Authentication{Type: pgproto3.AuthTypeGSS}
	err := c.handleGSSAuth(context.Background(), first, "dbhost")
	require.NoError(t, err)

	// handleGSSAuth returns as soon as the provider reports the
	// context is established, leaving the AuthenticationOk the server
	// sends next for startup's own message loop to consume — the same
	// way it leaves AuthenticationOk for every other auth method.
	msg, err := c.frontend.Receive()
	require.NoError(t, err)
	auth, ok := msg.(*pgproto3.Authentication)
	require.True(t, ok)
	require.Equal(t, uint32(pgproto3.AuthTypeOk), auth.Type)

	require.NoError(t, <-serverErr)

	require.Len(t, provider.calls, 2)
	require.Nil(t, provider.calls[0])
	require.Equal(t, []byte("server-challenge"), provider.calls[1])
}

func TestHandleGSSAuthRequiresProvider(t *testing.T) {
	c := &Conn{cfg: &Config{}}
	err := c.handleGSSAuth(context.Background(), &pgproto3.Authentication{Type: pgproto3.AuthTypeGSS}, "dbhost")
	require.Error(t, err)
}
