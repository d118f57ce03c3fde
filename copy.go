package pgwire

import (
	"context"
	"io"

	"github.com/oxleaf/pgwire/pgproto3"
)

// CopyFrom streams src to the server via COPY ... FROM STDIN, returning
// the number of rows copied as reported by the server's completion tag.
func (c *Conn) CopyFrom(ctx context.Context, sql string, src io.Reader) (int64, error) {
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.unlock()

	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	if err := c.frontend.Send(&pgproto3.Query{String: sql}); err != nil {
		return 0, &pgwireError{msg: "failed to write COPY FROM query", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return 0, &pgwireError{msg: "failed to write COPY FROM query", err: normalizeTimeoutError(ctx, err)}
	}

	if err := c.awaitCopyInResponse(); err != nil {
		return 0, err
	}

	buf := make([]byte, 64*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			c.frontend.Send(&pgproto3.CopyData{Data: buf[:n]})
			if err := c.frontend.Flush(); err != nil {
				c.handleWriteError(err)
				return 0, &pgwireError{msg: "failed to write CopyData", err: normalizeTimeoutError(ctx, err)}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.frontend.Send(&pgproto3.CopyFail{Message: readErr.Error()})
			c.frontend.Flush()
			break
		}
	}

	c.frontend.Send(&pgproto3.CopyDone{})
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return 0, &pgwireError{msg: "failed to write CopyDone", err: normalizeTimeoutError(ctx, err)}
	}

	return c.awaitCopyCommandComplete(ctx)
}

func (c *Conn) awaitCopyInResponse() error {
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return &pgwireError{msg: "failed to receive CopyInResponse", err: err}
		}
		switch m := msg.(type) {
		case *pgproto3.CopyInResponse:
			return nil
		case *pgproto3.ErrorResponse:
			return fieldsToPgError(m)
		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))
		default:
			return unexpectedMessageErr("CopyInResponse", msg)
		}
	}
}

func (c *Conn) awaitCopyCommandComplete(ctx context.Context) (int64, error) {
	var rowsAffected int64
	var firstErr error
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return 0, &pgwireError{msg: "failed to receive COPY completion", err: normalizeTimeoutError(ctx, err)}
		}
		switch m := msg.(type) {
		case *pgproto3.CommandComplete:
			rowsAffected = parseCommandTagRowCount(m.CommandTag)
		case *pgproto3.ErrorResponse:
			if firstErr == nil {
				firstErr = fieldsToPgError(m)
			}
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return rowsAffected, firstErr
		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))
		}
	}
}

// CopyTo streams the rows produced by sql (a COPY ... TO STDOUT
// statement) to dst.
func (c *Conn) CopyTo(ctx context.Context, sql string, dst io.Writer) (int64, error) {
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.unlock()

	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	if err := c.frontend.Send(&pgproto3.Query{String: sql}); err != nil {
		return 0, &pgwireError{msg: "failed to write COPY TO query", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return 0, &pgwireError{msg: "failed to write COPY TO query", err: normalizeTimeoutError(ctx, err)}
	}

	var rowsAffected int64
	var firstErr error
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return 0, &pgwireError{msg: "failed to receive COPY data", err: normalizeTimeoutError(ctx, err)}
		}
		switch m := msg.(type) {
		case *pgproto3.CopyOutResponse:
			// nothing to record

		case *pgproto3.CopyData:
			if _, err := dst.Write(m.Data); err != nil && firstErr == nil {
				firstErr = err
			}

		case *pgproto3.CopyDone:
			// completion follows as CommandComplete

		case *pgproto3.CommandComplete:
			rowsAffected = parseCommandTagRowCount(m.CommandTag)

		case *pgproto3.ErrorResponse:
			if firstErr == nil {
				firstErr = fieldsToPgError(m)
			}

		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return rowsAffected, firstErr

		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))
		}
	}
}

// parseCommandTagRowCount extracts the trailing row count from a
// completion tag like "COPY 42" or "INSERT 0 3". Returns 0 if the tag
// has no numeric suffix.
func parseCommandTagRowCount(tag []byte) int64 {
	var n int64
	i := len(tag)
	for i > 0 && tag[i-1] >= '0' && tag[i-1] <= '9' {
		i--
	}
	if i == len(tag) {
		return 0
	}
	for _, b := range tag[i:] {
		n = n*10 + int64(b-'0')
	}
	return n
}
