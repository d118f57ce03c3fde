package pgwire

import (
	"context"

	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/oxleaf/pgwire/pgproto3"
)

// Portal is a named, bound statement that can be fetched from in
// batches via FetchRows, rather than all at once — a server-side
// cursor built directly out of Bind/Execute(maxRows)/Sync instead of
// DECLARE CURSOR.
type Portal struct {
	conn *Conn
	sd   *stmtcache.StatementDescription
	name string
	ctx  context.Context
	done bool
}

// DeclarePortal prepares sql (reusing the statement cache) and binds
// paramValues to a named portal, ready for repeated FetchRows calls.
func (c *Conn) DeclarePortal(ctx context.Context, name, sql string, paramValues [][]byte, paramFormats []int16) (*Portal, error) {
	sd, err := c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}

	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.unlock()

	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	c.frontend.Send(&pgproto3.Bind{
		DestinationPortal:    name,
		PreparedStatement:    sd.Name,
		ParameterFormatCodes: paramFormats,
		Parameters:           paramValues,
	})
	c.frontend.Send(&pgproto3.Sync{})
	if err := c.frontend.Flush(); err != nil {
		c.handleWriteError(err)
		return nil, &pgwireError{msg: "failed to bind portal", err: normalizeTimeoutError(ctx, err)}
	}

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.handleWriteError(err)
			return nil, &pgwireError{msg: "failed to receive BindComplete", err: normalizeTimeoutError(ctx, err)}
		}
		switch m := msg.(type) {
		case *pgproto3.BindComplete:
			// keep waiting for ReadyForQuery
		case *pgproto3.ErrorResponse:
			return nil, fieldsToPgError(m)
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return &Portal{conn: c, sd: sd, name: name}, nil
		}
	}
}

// FetchRows executes the portal for at most maxRows rows. The returned
// ResultReader's Suspended method reports whether more rows remain.
func (p *Portal) FetchRows(ctx context.Context, maxRows uint32) (*ResultReader, error) {
	if p.done {
		return &ResultReader{conn: p.conn, closed: true}, nil
	}

	if err := p.conn.lock(); err != nil {
		return nil, err
	}

	p.conn.transport.WatchContext(ctx)

	p.conn.frontend.Send(&pgproto3.Execute{Portal: p.name, MaxRows: maxRows})
	p.conn.frontend.Send(&pgproto3.Sync{})
	if err := p.conn.frontend.Flush(); err != nil {
		p.conn.transport.UnwatchContext()
		p.conn.handleWriteError(err)
		return nil, &pgwireError{msg: "failed to execute portal", err: normalizeTimeoutError(ctx, err)}
	}

	rr := &ResultReader{conn: p.conn, fields: p.sd.Fields, extendedCtx: ctx}
	return rr, nil
}

// Close releases the portal's server-side resources.
func (p *Portal) Close(ctx context.Context) error {
	if p.done {
		return nil
	}
	p.done = true

	if err := p.conn.lock(); err != nil {
		return err
	}
	defer p.conn.unlock()

	p.conn.transport.WatchContext(ctx)
	defer p.conn.transport.UnwatchContext()

	p.conn.frontend.Send(&pgproto3.Close{ObjectType: 'P', Name: p.name})
	p.conn.frontend.Send(&pgproto3.Sync{})
	if err := p.conn.frontend.Flush(); err != nil {
		p.conn.handleWriteError(err)
		return &pgwireError{msg: "failed to close portal", err: normalizeTimeoutError(ctx, err)}
	}

	for {
		msg, err := p.conn.frontend.Receive()
		if err != nil {
			p.conn.handleWriteError(err)
			return &pgwireError{msg: "failed to receive CloseComplete", err: normalizeTimeoutError(ctx, err)}
		}
		if rfq, ok := msg.(*pgproto3.ReadyForQuery); ok {
			p.conn.txStatus = rfq.TxStatus
			return nil
		}
	}
}
