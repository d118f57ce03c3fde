package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/pgproto3"
)

// BatchItem is one statement and its parameter values queued into a
// Batch.
type BatchItem struct {
	SQL          string
	ParamValues  [][]byte
	ParamFormats []int16
}

// Batch pipelines a sequence of statements: every Parse/Bind/Describe/
// Execute is written before any response is read, and a single Sync
// closes the whole pipeline. This amortizes one round trip across the
// entire batch instead of paying it per statement.
type Batch struct {
	items []BatchItem
}

// Queue appends item to the batch.
func (b *Batch) Queue(sql string, paramValues [][]byte, paramFormats []int16) {
	b.items = append(b.items, BatchItem{SQL: sql, ParamValues: paramValues, ParamFormats: paramFormats})
}

// BatchResults reports the outcome of each item in a Batch, in order.
type BatchResults struct {
	conn    *Conn
	ctx     context.Context
	items   []BatchItem
	index   int
	err     error
	drained bool

	// rewritten, rowsPerItem, and returning support a batch that was
	// coalesced into a single multi-row INSERT by coalesceInserts:
	// NextResult still hands back one result per original item even
	// though only one Parse/Bind/Execute was actually sent.
	rewritten   bool
	rowsPerItem [][][]byte
	returning   bool
}

// SendBatch writes every queued item's Parse/Bind/Describe/Execute in
// one burst followed by a single Sync, then returns a BatchResults for
// reading them back in order. When Config.ReWriteBatchedInserts is set
// and b's items are a run of identical single-row INSERTs, they are
// coalesced into one multi-row INSERT first; BatchResults still
// exposes one result per queued item either way.
func (c *Conn) SendBatch(ctx context.Context, b *Batch) *BatchResults {
	if err := c.lock(); err != nil {
		return &BatchResults{err: err}
	}

	c.transport.WatchContext(ctx)

	wireItems := b.items
	rewritten := false
	returning := false
	if c.cfg.ReWriteBatchedInserts {
		if combined, hasReturning, ok := coalesceInserts(b.items); ok {
			wireItems = []BatchItem{combined}
			rewritten = true
			returning = hasReturning
		}
	}

	for _, item := range wireItems {
		name := ""
		paramFormats := item.ParamFormats
		var resultFormats []int16
		if c.stmtCache != nil {
			if sd := c.stmtCache.Get(item.SQL); sd != nil {
				name = sd.Name
				paramFormats = c.defaultParamFormats(paramFormats, sd.ParamOIDs)
				resultFormats = c.defaultResultFormats(resultFormats, sd.Fields)
			}
		}
		if name == "" {
			c.frontend.Send(&pgproto3.Parse{Name: name, Query: item.SQL})
		}
		c.frontend.Send(&pgproto3.Bind{
			PreparedStatement:    name,
			ParameterFormatCodes: paramFormats,
			Parameters:           item.ParamValues,
			ResultFormatCodes:    resultFormats,
		})
		c.frontend.Send(&pgproto3.Describe{ObjectType: 'P'})
		c.frontend.Send(&pgproto3.Execute{})
	}
	c.frontend.Send(&pgproto3.Sync{})

	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return &BatchResults{err: &pgwireError{msg: "failed to write batch", err: normalizeTimeoutError(ctx, err)}}
	}

	return &BatchResults{conn: c, ctx: ctx, items: b.items, rewritten: rewritten, returning: returning}
}

// NextResult advances to the next item's result. It returns nil once
// every item has been processed or an earlier item errored; check Err
// afterward.
func (br *BatchResults) NextResult() *ResultReader {
	if br.err != nil {
		// A prior item's ErrorResponse means the server silently
		// discarded every pipelined message after it; drain the
		// remaining skipped items and the trailing ReadyForQuery, once,
		// so the Conn doesn't stay locked and desynced forever.
		if !br.drained {
			br.drained = true
			br.index = len(br.items)
			if err := br.conn.drainToReadyForQuery(); err != nil {
				br.conn.handleWriteError(err)
				return nil
			}
			br.finish()
		}
		return nil
	}
	if br.index >= len(br.items) {
		return nil
	}

	if br.rewritten {
		return br.nextRewrittenResult()
	}

	br.index++

	rr := &ResultReader{conn: br.conn}
	for {
		msg, err := br.conn.frontend.Receive()
		if err != nil {
			br.fail(&pgwireError{msg: "failed to receive batch result", err: normalizeTimeoutError(br.ctx, err)})
			return nil
		}

		switch m := msg.(type) {
		case *pgproto3.ParseComplete, *pgproto3.BindComplete:
			// nothing to record

		case *pgproto3.RowDescription:
			rr.fields = m.Fields

		case *pgproto3.DataRow:
			// push back by recursing into NextRow isn't possible here;
			// buffer the pending row so the first NextRow call sees it
			rr.row = m.Values
			rr.pendingRow = true
			return rr

		case *pgproto3.CommandComplete:
			rr.commandTag = string(m.CommandTag)
			rr.closed = true
			return rr

		case *pgproto3.NoData, *pgproto3.EmptyQueryResponse:
			rr.closed = true
			return rr

		case *pgproto3.ErrorResponse:
			rr.err = fieldsToPgError(m)
			rr.closed = true
			if br.err == nil {
				br.err = rr.err
			}
			return rr

		case *pgproto3.NoticeResponse:
			br.conn.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.NotificationResponse:
			br.conn.handleNotification(m)

		case *pgproto3.ReadyForQuery:
			br.conn.txStatus = m.TxStatus
			br.finish()
			return nil

		default:
			br.fail(unexpectedMessageErr("batch result", msg))
			return nil
		}
	}
}

// nextRewrittenResult serves NextResult for a batch coalesceInserts
// combined into a single wire statement: the first call reads that
// statement's entire result (buffering every RETURNING row), and every
// call — including the first — pops the next original item's share of
// it: one row when the INSERT has a RETURNING clause (rows come back
// in value-tuple order, so row i belongs to item i), or an empty,
// already-closed result when it doesn't; the combined statement's
// command tag is not reported per item.
func (br *BatchResults) nextRewrittenResult() *ResultReader {
	if br.rowsPerItem == nil {
		if !br.readRewrittenResponse() {
			return nil
		}
	}

	i := br.index
	br.index++

	rr := &ResultReader{conn: br.conn, closed: true}
	if br.returning && i < len(br.rowsPerItem) {
		rr.row = br.rowsPerItem[i]
		rr.pendingRow = true
	}
	return rr
}

// readRewrittenResponse drains the single Parse/Bind/Execute response
// group for a coalesced batch through to ReadyForQuery, buffering one
// row per original item when the statement has RETURNING. It reports
// whether the statement completed without error; the trailing
// ReadyForQuery is always consumed and the Conn released either way.
func (br *BatchResults) readRewrittenResponse() bool {
	br.drained = true
	br.rowsPerItem = make([][][]byte, 0, len(br.items))
	ok := true

	for {
		msg, err := br.conn.frontend.Receive()
		if err != nil {
			br.fail(&pgwireError{msg: "failed to receive batch result", err: normalizeTimeoutError(br.ctx, err)})
			return false
		}

		switch m := msg.(type) {
		case *pgproto3.ParseComplete, *pgproto3.BindComplete, *pgproto3.RowDescription,
			*pgproto3.CommandComplete, *pgproto3.NoData, *pgproto3.EmptyQueryResponse:
			// nothing to record

		case *pgproto3.DataRow:
			row := make([][]byte, len(m.Values))
			for j, v := range m.Values {
				if v != nil {
					row[j] = append([]byte{}, v...)
				}
			}
			br.rowsPerItem = append(br.rowsPerItem, row)

		case *pgproto3.ErrorResponse:
			br.err = fieldsToPgError(m)
			ok = false

		case *pgproto3.NoticeResponse:
			br.conn.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.NotificationResponse:
			br.conn.handleNotification(m)

		case *pgproto3.ReadyForQuery:
			br.conn.txStatus = m.TxStatus
			br.finish()
			return ok

		default:
			br.fail(unexpectedMessageErr("batch result", msg))
			return false
		}
	}
}

// Close drains any unread results and releases the Conn.
func (br *BatchResults) Close() error {
	for br.NextResult() != nil {
	}
	return br.err
}

func (br *BatchResults) Err() error { return br.err }

func (br *BatchResults) fail(err error) {
	if br.err == nil {
		br.err = err
	}
	br.index = len(br.items)
	br.conn.handleWriteError(err)
}

func (br *BatchResults) finish() {
	br.conn.transport.UnwatchContext()
	br.conn.unlock()
}
