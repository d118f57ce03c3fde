package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/pgproto3"
)

// Row is one row of a result set: raw wire-format column values, nil for
// SQL NULL, valid only until the next call to ResultReader.NextRow.
type Row = [][]byte

// ResultReader streams the rows of a single statement's result, whether
// produced by the simple query protocol or by Execute in extended mode.
type ResultReader struct {
	conn   *Conn
	fields []pgproto3.FieldDescription

	row        Row
	commandTag string
	err        error
	suspended  bool
	closed     bool
	pendingRow bool

	// preloaded, when set, is the first response message bindExecute
	// already received off the wire (to peek for a cached-plan
	// invalidation before returning control to the caller); NextRow
	// consumes it before going back to the socket.
	preloaded pgproto3.BackendMessage

	// extendedCtx is set only when this reader owns the Sync round
	// trip of a single QueryParams call, so it must drain the trailing
	// ReadyForQuery itself and release the Conn lock when done.
	extendedCtx context.Context
}

// FieldDescriptions returns the column metadata for this result, or nil
// if the statement produces no rows (e.g. an INSERT without RETURNING).
func (r *ResultReader) FieldDescriptions() []pgproto3.FieldDescription {
	return r.fields
}

// NextRow advances to the next row, returning false when the result set
// is exhausted or an error occurred. Check Err after NextRow returns
// false.
func (r *ResultReader) NextRow() bool {
	if r.pendingRow {
		r.pendingRow = false
		return true
	}

	if r.closed || r.err != nil {
		return false
	}

	for {
		var msg pgproto3.BackendMessage
		if r.preloaded != nil {
			msg, r.preloaded = r.preloaded, nil
		} else {
			var err error
			msg, err = r.conn.frontend.Receive()
			if err != nil {
				r.err = &pgwireError{msg: "failed to receive row", err: err}
				return false
			}
		}

		switch m := msg.(type) {
		case *pgproto3.BindComplete:
			// nothing to record

		case *pgproto3.DataRow:
			r.row = m.Values
			return true

		case *pgproto3.RowDescription:
			r.fields = m.Fields

		case *pgproto3.CommandComplete:
			r.commandTag = string(m.CommandTag)
			return r.finish()

		case *pgproto3.EmptyQueryResponse:
			return r.finish()

		case *pgproto3.PortalSuspended:
			r.suspended = true
			return r.finish()

		case *pgproto3.ErrorResponse:
			r.err = fieldsToPgError(m)
			return r.finish()

		case *pgproto3.NoticeResponse:
			r.conn.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.NotificationResponse:
			r.conn.handleNotification(m)

		case *pgproto3.ParameterStatus:
			r.conn.parameterStatuses[m.Name] = m.Value

		default:
			r.err = unexpectedMessageErr("row data", msg)
			return r.finish()
		}
	}
}

// finish marks the reader closed and, for a reader that owns its own
// Sync round trip (QueryParams), drains the trailing ReadyForQuery and
// releases the Conn. It always returns false, so callers can
// `return r.finish()` directly from NextRow.
func (r *ResultReader) finish() bool {
	r.closed = true

	if r.extendedCtx == nil {
		return false
	}

	if err := r.conn.drainToReadyForQuery(); err != nil {
		if r.err == nil {
			r.err = err
		}
		r.conn.handleWriteError(err)
	} else {
		r.conn.transport.UnwatchContext()
		r.conn.unlock()
	}

	if r.conn.tracer != nil {
		r.conn.tracer.TraceQueryEnd(r.extendedCtx, r.conn, TraceQueryEndData{CommandTag: r.commandTag, Err: r.err})
	}

	return false
}

// Values returns the columns of the row last returned by NextRow.
func (r *ResultReader) Values() Row { return r.row }

// CommandTag returns the server's completion tag (e.g. "UPDATE 3") once
// the result set has been fully read.
func (r *ResultReader) CommandTag() string { return r.commandTag }

// Suspended reports whether the result ended because the portal hit its
// row limit (Execute's MaxRows) rather than completing.
func (r *ResultReader) Suspended() bool { return r.suspended }

// Err returns the error that stopped iteration, if any.
func (r *ResultReader) Err() error { return r.err }
