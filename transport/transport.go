// Package transport implements the byte-level connection a protocol
// engine runs over: a net.Conn wrapped with context-aware blocking
// reads and in-place TLS/GSS upgrade.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/oxleaf/pgwire/transport/ctxwatch"
)

// Transport owns the connection a Frontend reads and writes through.
// A single Transport is not safe for concurrent use.
type Transport struct {
	conn    net.Conn
	watcher *ctxwatch.ContextWatcher

	closed       bool
	contextCause error
}

// Dial opens conn using dialer (or net.Dial if nil) and wraps it in a
// Transport.
func Dial(ctx context.Context, network, address string, dialer *net.Dialer) (*Transport, error) {
	if dialer == nil {
		dialer = &net.Dialer{KeepAlive: 5 * time.Minute}
	}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an already-established net.Conn.
func New(conn net.Conn) *Transport {
	t := &Transport{conn: conn}
	t.watcher = ctxwatch.NewContextWatcher(t.onCancel, t.onUnwatchAfterCancel)
	return t
}

func (t *Transport) onCancel() {
	t.contextCause = context.Canceled
	t.conn.SetDeadline(time.Time{}.Add(1))
}

func (t *Transport) onUnwatchAfterCancel() {
	t.conn.SetDeadline(time.Time{})
}

// Conn exposes the underlying net.Conn, e.g. so a caller can inspect
// the remote address for logging.
func (t *Transport) Conn() net.Conn { return t.conn }

// WatchContext arranges for a blocking Read/Write in progress to be
// aborted with a deadline error if ctx is canceled before the matching
// UnwatchContext.
func (t *Transport) WatchContext(ctx context.Context) {
	t.watcher.Watch(ctx)
}

// UnwatchContext stops watching the context started by WatchContext.
func (t *Transport) UnwatchContext() {
	t.watcher.Unwatch()
	t.contextCause = nil
}

// Read implements io.Reader over the underlying connection.
func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil && t.contextCause != nil {
		return n, t.contextCause
	}
	return n, err
}

// Write implements io.Writer over the underlying connection.
func (t *Transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil && t.contextCause != nil {
		return n, t.contextCause
	}
	return n, err
}

// SetDeadline forwards to the underlying connection.
func (t *Transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// UpgradeTLS performs an in-place SSLRequest negotiation: it writes the
// request, reads the single-byte reply, and on acceptance replaces the
// underlying connection with a TLS client connection performing the
// handshake. ErrTLSRefused is returned if the server declined.
func (t *Transport) UpgradeTLS(cfg *tls.Config, request func() error, readReply func() (byte, error)) error {
	if err := request(); err != nil {
		return err
	}
	reply, err := readReply()
	if err != nil {
		return err
	}
	if reply != 'S' {
		return ErrTLSRefused
	}
	t.conn = tls.Client(t.conn, cfg)
	return nil
}

// UpgradeGSS performs an in-place GSSENCRequest negotiation, the GSS
// counterpart to UpgradeTLS: it writes the request, reads the
// single-byte reply, and on acceptance replaces the underlying
// connection with the stream wrap returns. ErrGSSRefused is returned
// if the server declined; accepted is false in that case.
func (t *Transport) UpgradeGSS(wrap func(net.Conn) (net.Conn, error), request func() error, readReply func() (byte, error)) (accepted bool, err error) {
	if err := request(); err != nil {
		return false, err
	}
	reply, err := readReply()
	if err != nil {
		return false, err
	}
	if reply != 'G' {
		return false, ErrGSSRefused
	}
	wrapped, err := wrap(t.conn)
	if err != nil {
		return false, err
	}
	t.conn = wrapped
	return true, nil
}

// ChannelBinding computes the tls-server-end-point channel binding data
// (RFC 5929) from the server's leaf certificate, if the connection is
// TLS. The second return value is false over a plaintext connection.
func (t *Transport) ChannelBinding() ([]byte, bool) {
	tlsConn, ok := t.conn.(*tls.Conn)
	if !ok {
		return nil, false
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, false
	}
	return certSignatureHash(certs[0]), true
}

// certSignatureHash hashes cert.Raw with SHA-256, except certificates
// signed with a SHA-384 or SHA-512 algorithm use the matching hash, per
// RFC 5929 section 4.1.
func certSignatureHash(cert *x509.Certificate) []byte {
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384:
		sum := sha512.Sum384(cert.Raw)
		return sum[:]
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512:
		sum := sha512.Sum512(cert.Raw)
		return sum[:]
	default:
		sum := sha256.Sum256(cert.Raw)
		return sum[:]
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
