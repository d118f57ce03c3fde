package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/oxleaf/pgwire/transport"
)

// CancelRequest asks the server to interrupt whatever query is
// currently running on c, over a brand new connection as the protocol
// requires. It returns once the request has been sent; PostgreSQL does
// not reply to a cancel request, successful or not, so this cannot
// confirm the query was actually interrupted.
func (c *Conn) CancelRequest(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, c.cfg.CancelSignalTimeout)
	defer cancel()

	network, address := NetworkAddress(c.cfg.Host, c.cfg.Port)

	t, err := transport.Dial(ctx, network, address, nil)
	if err != nil {
		return &pgwireError{msg: "failed to dial for cancel request", err: err}
	}
	defer t.Close()

	t.WatchContext(ctx)
	defer t.UnwatchContext()

	buf, err := (&pgproto3.CancelRequest{ProcessID: c.pid, SecretKey: c.secretKey}).Encode(nil)
	if err != nil {
		return err
	}
	if _, err := t.Write(buf); err != nil {
		return &pgwireError{msg: "failed to send cancel request", err: normalizeTimeoutError(ctx, err)}
	}

	// The server closes the connection without a reply; draining the
	// read confirms it did so rather than hanging.
	discard := make([]byte, 1)
	t.Read(discard)

	return nil
}
