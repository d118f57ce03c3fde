package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/oxleaf/pgwire/pgproto3"
)

// Prepare parses sql into a server-side prepared statement, reusing a
// cached description if this exact SQL text was already prepared on
// this Conn and the entry has not been invalidated.
func (c *Conn) Prepare(ctx context.Context, sql string) (*stmtcache.StatementDescription, error) {
	if c.stmtCache != nil {
		if sd := c.stmtCache.Get(sql); sd != nil {
			return sd, nil
		}
	}

	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.unlock()

	ctx, cancel := withTimeout(ctx, c.cfg.SocketTimeout)
	defer cancel()

	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	name := ""
	if c.stmtCache != nil {
		name = stmtcache.StatementName(sql)
	}

	c.frontend.Send(&pgproto3.Parse{Name: name, Query: sql})
	c.frontend.Send(&pgproto3.Describe{ObjectType: 'S', Name: name})
	c.frontend.Send(&pgproto3.Sync{})
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return nil, &pgwireError{msg: "failed to write Parse/Describe/Sync", err: normalizeTimeoutError(ctx, err)}
	}

	sd := &stmtcache.StatementDescription{Name: name, SQL: sql}
	var firstErr error

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return nil, &pgwireError{msg: "failed to receive Parse/Describe response", err: normalizeTimeoutError(ctx, err)}
		}

		switch m := msg.(type) {
		case *pgproto3.ParseComplete:
			// nothing to record

		case *pgproto3.ParameterDescription:
			sd.ParamOIDs = append([]uint32(nil), m.ParameterOIDs...)

		case *pgproto3.RowDescription:
			sd.Fields = append([]pgproto3.FieldDescription(nil), m.Fields...)

		case *pgproto3.NoData:
			sd.Fields = nil

		case *pgproto3.ErrorResponse:
			if firstErr == nil {
				firstErr = fieldsToPgError(m)
			}

		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			if firstErr != nil {
				return nil, firstErr
			}
			if c.stmtCache != nil {
				c.stmtCache.Put(sd)
				c.closeInvalidatedStatements(ctx)
			}
			return sd, nil

		default:
			return nil, unexpectedMessageErr("Parse/Describe response", msg)
		}
	}
}

// closeInvalidatedStatements sends Close for every statement the cache
// evicted since the last call, piggybacking on the caller's already
// locked, already flushed round trip.
func (c *Conn) closeInvalidatedStatements(ctx context.Context) {
	invalidated := c.stmtCache.HandleInvalidated()
	if len(invalidated) == 0 {
		return
	}
	for _, sd := range invalidated {
		c.frontend.Send(&pgproto3.Close{ObjectType: 'S', Name: sd.Name})
	}
	c.frontend.Send(&pgproto3.Sync{})
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return
	}
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return
		}
		if rfq, ok := msg.(*pgproto3.ReadyForQuery); ok {
			c.txStatus = rfq.TxStatus
			return
		}
	}
}

// prepareDecision is decidePrepare's verdict for one execution of a
// given SQL text.
type prepareDecision int

const (
	decisionOneshot prepareDecision = iota
	decisionOneshotBinary
	decisionPrepared
)

// decidePrepare applies Config.PrepareThreshold: 0 (or no statement
// cache at all) disables server-side preparation outright, a negative
// threshold forces the one-shot path to additionally request binary
// results, and a positive threshold keeps sql one-shot until it has
// run that many times on this Conn, promoting it to a named, cached,
// prepared statement from then on. The default, 5, means sql is never
// prepared before its 5th identical execution.
func (c *Conn) decidePrepare(sql string) prepareDecision {
	if c.stmtCache == nil || c.cfg.PrepareThreshold == 0 {
		return decisionOneshot
	}
	if c.cfg.PrepareThreshold < 0 {
		return decisionOneshotBinary
	}
	if sd := c.stmtCache.Get(sql); sd != nil {
		return decisionPrepared
	}
	c.execCounts[sql]++
	if c.execCounts[sql] < c.cfg.PrepareThreshold {
		return decisionOneshot
	}
	return decisionPrepared
}

// QueryParams runs sql once via the extended query protocol, binding
// paramValues in the order they appear in sql. Below
// Config.PrepareThreshold it runs one-shot with an unnamed statement;
// once the threshold is reached it is promoted to a cached,
// server-side prepared statement reused on every later call, with
// Bind's parameter/result format codes defaulted from the binary Oid
// policy (useBinaryForSend/useBinaryForReceive) whenever the caller
// leaves them nil. If the server reports a cached-plan invalidation
// (SQLSTATE 0A000 — "cached plan must not change result type", e.g.
// after a concurrent DDL change to the underlying table), the cache is
// flushed and sql is re-prepared and retried once, but only when it is
// a single statement known safe to repeat blindly.
func (c *Conn) QueryParams(ctx context.Context, sql string, paramValues [][]byte, paramFormats []int16, resultFormats []int16) (*ResultReader, error) {
	switch c.decidePrepare(sql) {
	case decisionOneshot:
		return c.execUnnamed(ctx, sql, paramValues, paramFormats, resultFormats, false)
	case decisionOneshotBinary:
		return c.execUnnamed(ctx, sql, paramValues, paramFormats, resultFormats, true)
	}

	sd, err := c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}

	rr, invalidPlan, err := c.bindExecute(ctx, sql, sd, paramValues, paramFormats, resultFormats)
	if err != nil {
		return nil, err
	}
	if invalidPlan == nil {
		return rr, nil
	}
	if !willHealOnRetry(sql) {
		return nil, invalidPlan
	}

	if err := c.flushStatementCache(ctx); err != nil {
		return nil, err
	}
	sd, err = c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	rr, invalidPlan, err = c.bindExecute(ctx, sql, sd, paramValues, paramFormats, resultFormats)
	if err != nil {
		return nil, err
	}
	if invalidPlan != nil {
		return nil, invalidPlan
	}
	return rr, nil
}

// execUnnamed runs sql as a one-shot unnamed statement: Parse, Bind,
// Describe, Execute, Sync in one round trip, with no cache lookup and
// no server-side statement left behind afterward. forceBinary requests
// every result column in binary format (PrepareThreshold -1); it
// applies to the whole row since Bind's format-code list, given a
// single entry, covers every column.
func (c *Conn) execUnnamed(ctx context.Context, sql string, paramValues [][]byte, paramFormats, resultFormats []int16, forceBinary bool) (*ResultReader, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}

	c.transport.WatchContext(ctx)

	if forceBinary && resultFormats == nil {
		resultFormats = []int16{1}
	}

	c.frontend.Send(&pgproto3.Parse{Query: sql})
	c.frontend.Send(&pgproto3.Bind{
		ParameterFormatCodes: paramFormats,
		Parameters:           paramValues,
		ResultFormatCodes:    resultFormats,
	})
	c.frontend.Send(&pgproto3.Describe{ObjectType: 'P'})
	c.frontend.Send(&pgproto3.Execute{})
	c.frontend.Send(&pgproto3.Sync{})

	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return nil, &pgwireError{msg: "failed to write Parse/Bind/Execute", err: normalizeTimeoutError(ctx, err)}
	}

	if c.tracer != nil {
		ctx = c.tracer.TraceQueryStart(ctx, c, TraceQueryStartData{SQL: sql})
	}

	rr := &ResultReader{conn: c}
	rr.extendedCtx = ctx
	return rr, nil
}

// bindExecute sends Bind/Describe/Execute/Sync for an already-prepared
// sd, applying the binary Oid policy's defaults, and peeks the first
// response message to detect a cached-plan invalidation (SQLSTATE
// 0A000) before handing control back — so QueryParams can flush the
// cache and retry while still holding the Conn lock, without ever
// exposing a half-read ResultReader for that case. On any other
// outcome the peeked message is handed to the returned ResultReader,
// which consumes it before going back to the socket.
func (c *Conn) bindExecute(ctx context.Context, sql string, sd *stmtcache.StatementDescription, paramValues [][]byte, paramFormats, resultFormats []int16) (rr *ResultReader, invalidPlan *PgError, err error) {
	if err := c.lock(); err != nil {
		return nil, nil, err
	}

	c.transport.WatchContext(ctx)

	paramFormats = c.defaultParamFormats(paramFormats, sd.ParamOIDs)
	resultFormats = c.defaultResultFormats(resultFormats, sd.Fields)

	c.frontend.Send(&pgproto3.Bind{
		PreparedStatement:    sd.Name,
		ParameterFormatCodes: paramFormats,
		Parameters:           paramValues,
		ResultFormatCodes:    resultFormats,
	})
	c.frontend.Send(&pgproto3.Describe{ObjectType: 'P'})
	c.frontend.Send(&pgproto3.Execute{})
	c.frontend.Send(&pgproto3.Sync{})

	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return nil, nil, &pgwireError{msg: "failed to write Bind/Execute", err: normalizeTimeoutError(ctx, err)}
	}

	first, err := c.frontend.Receive()
	if err != nil {
		c.handleWriteError(err)
		return nil, nil, &pgwireError{msg: "failed to receive Bind response", err: normalizeTimeoutError(ctx, err)}
	}

	if errResp, ok := first.(*pgproto3.ErrorResponse); ok {
		pgErr := fieldsToPgError(errResp)
		if pgErr.Code == SQLStateFeatureNotSupported {
			if drainErr := c.drainToReadyForQuery(); drainErr != nil {
				c.handleWriteError(drainErr)
				return nil, nil, &pgwireError{msg: "failed to drain after cached-plan invalidation", err: drainErr}
			}
			c.transport.UnwatchContext()
			c.unlock()
			return nil, pgErr, nil
		}
	}

	if c.tracer != nil {
		ctx = c.tracer.TraceQueryStart(ctx, c, TraceQueryStartData{SQL: sql})
	}

	rr = &ResultReader{conn: c, fields: sd.Fields, preloaded: first}
	rr.extendedCtx = ctx
	return rr, nil, nil
}

// flushStatementCache runs DEALLOCATE ALL, for the Cache policy's
// cached-plan-invalidation recovery: the server has already dropped
// every prepared statement it held, so the cache describing them must
// be dropped too or a later Prepare would wrongly think a statement is
// still there and skip re-parsing it.
func (c *Conn) flushStatementCache(ctx context.Context) error {
	if err := c.execDiscard(ctx, "DEALLOCATE ALL"); err != nil {
		return err
	}
	if c.stmtCache != nil {
		c.stmtCache.InvalidateAll()
		c.stmtCache.HandleInvalidated()
	}
	return nil
}

// QueryParamsReturningGeneratedKeys runs sql via QueryParams after
// appending a RETURNING clause, unless sql already has one, so
// server-generated values (an identity/serial primary key, a
// trigger-computed column) come back as the result set's rows instead
// of requiring a separate round trip. columns names the columns to
// return, or nil for RETURNING *.
func (c *Conn) QueryParamsReturningGeneratedKeys(ctx context.Context, sql string, columns []string, paramValues [][]byte, paramFormats []int16, resultFormats []int16) (*ResultReader, error) {
	return c.QueryParams(ctx, appendReturning(sql, columns), paramValues, paramFormats, resultFormats)
}
