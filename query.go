package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/pgproto3"
)

// MultiResultReader iterates the one or more result sets produced by a
// single simple-query string (';'-separated statements all run in one
// implicit transaction).
type MultiResultReader struct {
	conn *Conn
	ctx  context.Context

	currentResult *ResultReader
	done          bool
	err           error
}

// Exec runs sql via the simple query protocol. Parameters cannot be
// bound this way; use Prepare/Execute (extended.go) for that.
func (c *Conn) Exec(ctx context.Context, sql string) (*MultiResultReader, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}

	c.transport.WatchContext(ctx)

	if err := c.frontend.Send(&pgproto3.Query{String: sql}); err != nil {
		c.transport.UnwatchContext()
		c.unlock()
		return nil, &pgwireError{msg: "failed to write query message", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return nil, &pgwireError{msg: "failed to write query message", err: normalizeTimeoutError(ctx, err)}
	}

	if c.tracer != nil {
		ctx = c.tracer.TraceQueryStart(ctx, c, TraceQueryStartData{SQL: sql})
	}

	return &MultiResultReader{conn: c, ctx: ctx}, nil
}

// NextResult advances to the next statement's result set. It returns
// false once every statement in the simple-query string has been
// processed and ReadyForQuery has been received.
func (m *MultiResultReader) NextResult() bool {
	if m.done {
		return false
	}

	if m.currentResult != nil {
		for m.currentResult.NextRow() {
		}
		if err := m.currentResult.Err(); err != nil && m.err == nil {
			m.err = err
		}
	}

	m.currentResult = &ResultReader{conn: m.conn}

	for {
		msg, err := m.conn.frontend.Receive()
		if err != nil {
			m.fail(&pgwireError{msg: "failed to receive query result", err: normalizeTimeoutError(m.ctx, err)})
			return false
		}

		switch mm := msg.(type) {
		case *pgproto3.RowDescription:
			m.currentResult.fields = mm.Fields
			return true

		case *pgproto3.DataRow:
			m.currentResult.row = mm.Values
			m.currentResult.pendingRow = true
			return true

		case *pgproto3.CommandComplete:
			m.currentResult.commandTag = string(mm.CommandTag)
			m.currentResult.closed = true
			return true

		case *pgproto3.EmptyQueryResponse:
			m.currentResult.closed = true
			return true

		case *pgproto3.ErrorResponse:
			m.currentResult.err = fieldsToPgError(mm)
			m.currentResult.closed = true
			if m.err == nil {
				m.err = m.currentResult.err
			}
			return true

		case *pgproto3.NoticeResponse:
			m.conn.handleNotice((*pgproto3.ErrorResponse)(mm))

		case *pgproto3.NotificationResponse:
			m.conn.handleNotification(mm)

		case *pgproto3.ParameterStatus:
			m.conn.parameterStatuses[mm.Name] = mm.Value

		case *pgproto3.ReadyForQuery:
			m.conn.txStatus = mm.TxStatus
			m.done = true
			m.finish()
			return false

		default:
			m.fail(unexpectedMessageErr("simple query result", msg))
			return false
		}
	}
}

// ResultReader returns the reader for the result set NextResult most
// recently advanced to.
func (m *MultiResultReader) ResultReader() *ResultReader { return m.currentResult }

// Close drains any remaining results and reports the first error
// encountered across the whole simple-query string, if any.
func (m *MultiResultReader) Close() error {
	for m.NextResult() {
	}
	return m.err
}

func (m *MultiResultReader) fail(err error) {
	if m.err == nil {
		m.err = err
	}
	m.done = true
	m.conn.handleWriteError(err)
}

func (m *MultiResultReader) finish() {
	m.conn.transport.UnwatchContext()
	if m.conn.tracer != nil {
		m.conn.tracer.TraceQueryEnd(m.ctx, m.conn, TraceQueryEndData{Err: m.err})
	}
	m.conn.unlock()
}
