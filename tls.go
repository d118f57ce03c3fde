package pgwire

import (
	"crypto/tls"
	"io"

	"github.com/oxleaf/pgwire/pgproto3"
)

// upgradeTLS runs the SSLRequest handshake over the raw transport and,
// if the server agrees, wraps the connection in a TLS client. Called
// before the Frontend exists, so it talks to the transport directly
// rather than through pgproto3.
func (c *Conn) upgradeTLS(cfg *tls.Config) error {
	return c.transport.UpgradeTLS(cfg, func() error {
		buf, err := (&pgproto3.SSLRequest{}).Encode(nil)
		if err != nil {
			return err
		}
		_, err = c.transport.Write(buf)
		return err
	}, func() (byte, error) {
		var reply [1]byte
		if _, err := io.ReadFull(c.transport, reply[:]); err != nil {
			return 0, err
		}
		return reply[0], nil
	})
}
