package pgwire

import (
	"context"
	"fmt"
	"net"

	"github.com/oxleaf/pgwire/pgproto3"
)

// GSSProvider is the abstract secure-transport trait spec.md §4.1
// describes for GSS: this module vendors no platform Kerberos/SSPI
// library, so both GSS-encrypted transport and
// AuthenticationGSS/AuthenticationSSPI exchanges are driven through
// whatever implementation the caller injects via Config.GSSAPI.
type GSSProvider interface {
	// InitSecContext starts or continues a GSSAPI/SSPI security context
	// negotiation against host. challenge is nil on the first call and
	// the server's AuthenticationGSSContinue payload on later calls.
	// done is true once the context is fully established; token may
	// still be non-empty on the final call and must be sent.
	InitSecContext(host string, challenge []byte) (token []byte, done bool, err error)

	// WrapConn upgrades conn to a GSS-encrypted stream after the server
	// accepts a GSSEncRequest; startGSSEnc does not call InitSecContext
	// first, so any context negotiation is up to WrapConn itself. Not
	// called for authentication-only use.
	WrapConn(conn net.Conn) (net.Conn, error)
}

// startGSSEnc runs the GSSEncRequest handshake: if the server accepts,
// the connection is wrapped via WrapConn, mirroring upgradeTLS's
// SSLRequest dance.
func (c *Conn) startGSSEnc(host string) error {
	_, err := c.transport.UpgradeGSS(func(conn net.Conn) (net.Conn, error) {
		return c.cfg.GSSAPI.WrapConn(conn)
	}, func() error {
		buf, err := (&pgproto3.GSSEncRequest{}).Encode(nil)
		if err != nil {
			return err
		}
		_, err = c.transport.Write(buf)
		return err
	}, func() (byte, error) {
		var reply [1]byte
		_, err := c.transport.Read(reply[:])
		return reply[0], err
	})
	return err
}

// handleGSSAuth drives AuthenticationGSS/AuthenticationSSPI, looping on
// AuthenticationGSSContinue as long as the provider reports the context
// isn't done yet. It returns as soon as the provider reports done, after
// sending any final token, leaving the server's AuthenticationOk to the
// caller; it also returns if AuthenticationOk arrives while it is still
// waiting for a continuation.
func (c *Conn) handleGSSAuth(ctx context.Context, first *pgproto3.Authentication, host string) error {
	if c.cfg.GSSAPI == nil {
		return fmt.Errorf("server requested GSSAPI/SSPI authentication but no GSSProvider is configured")
	}

	challenge := first.GSSAuthData
	for {
		token, done, err := c.cfg.GSSAPI.InitSecContext(host, challenge)
		if err != nil {
			return &pgwireError{msg: "GSSAPI security context negotiation failed", err: err}
		}

		if len(token) > 0 {
			if err := c.frontend.Send(&pgproto3.GSSResponse{Data: token}); err != nil {
				return &pgwireError{msg: "failed to write GSSResponse", err: err}
			}
			if err := c.frontend.Flush(); err != nil {
				return &pgwireError{msg: "failed to write GSSResponse", err: normalizeTimeoutError(ctx, err)}
			}
		}

		if done {
			return nil
		}

		msg, err := c.frontend.Receive()
		if err != nil {
			return &pgwireError{msg: "failed to receive GSSAPI continuation", err: normalizeTimeoutError(ctx, err)}
		}
		switch m := msg.(type) {
		case *pgproto3.Authentication:
			if m.Type == pgproto3.AuthTypeOk {
				return nil
			}
			if m.Type != pgproto3.AuthTypeGSSContinue {
				return unexpectedMessageErr("AuthenticationGSSContinue", msg)
			}
			challenge = m.GSSAuthData
		case *pgproto3.ErrorResponse:
			return fieldsToPgError(m)
		default:
			return unexpectedMessageErr("AuthenticationGSSContinue", msg)
		}
	}
}
