package pgwire

import (
	"context"
	"fmt"

	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/oxleaf/pgwire/pgproto3"
)

// startup sends the StartupMessage for host and runs the
// authentication exchange through to the first ReadyForQuery,
// recording BackendKeyData and ParameterStatus along the way.
func (c *Conn) startup(ctx context.Context, host string) error {
	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	params := map[string]string{
		"user":               c.cfg.User,
		"database":           c.cfg.Database,
		"client_encoding":    "UTF8",
		"DateStyle":          "ISO",
		"extra_float_digits": "2",
	}
	for k, v := range c.cfg.RuntimeParams {
		params[k] = v
	}

	err := c.frontend.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      params,
	})
	if err != nil {
		return &pgwireError{msg: "failed to write startup message", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		return &pgwireError{msg: "failed to write startup message", err: normalizeTimeoutError(ctx, err)}
	}

	if c.cfg.StatementCacheCapacity > 0 {
		c.stmtCache = stmtcache.NewLRUCache(c.cfg.StatementCacheCapacity)
	}

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			return &pgwireError{msg: "failed to receive message during startup", err: normalizeTimeoutError(ctx, err)}
		}

		switch m := msg.(type) {
		case *pgproto3.BackendKeyData:
			c.pid = m.ProcessID
			c.secretKey = m.SecretKey

		case *pgproto3.Authentication:
			if err := c.handleAuth(ctx, m, host); err != nil {
				return err
			}

		case *pgproto3.ParameterStatus:
			c.parameterStatuses[m.Name] = m.Value

		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return nil

		case *pgproto3.ErrorResponse:
			return fieldsToPgError(m)

		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.NegotiateProtocolVersion:
			if m.MinorProtocolVersion != 0 || len(m.UnrecognizedOptions) != 0 {
				return fmt.Errorf("server does not support requested protocol version or parameters: %v", m.UnrecognizedOptions)
			}

		default:
			return unexpectedMessageErr("startup", msg)
		}
	}
}
