package pgwire

import (
	"context"
	"fmt"

	"github.com/oxleaf/pgwire/pgproto3"
)

// TxIsoLevel is a transaction isolation level understood by
// SET TRANSACTION ISOLATION LEVEL.
type TxIsoLevel string

const (
	ReadCommitted  TxIsoLevel = "read committed"
	RepeatableRead TxIsoLevel = "repeatable read"
	Serializable   TxIsoLevel = "serializable"
)

// TxAccessMode controls whether a transaction may perform writes.
type TxAccessMode string

const (
	ReadWrite TxAccessMode = "read write"
	ReadOnly  TxAccessMode = "read only"
)

// TxOptions configures Begin.
type TxOptions struct {
	IsoLevel   TxIsoLevel
	AccessMode TxAccessMode
}

func (o TxOptions) beginSQL() string {
	sql := "BEGIN"
	if o.IsoLevel != "" {
		sql += " ISOLATION LEVEL " + string(o.IsoLevel)
	}
	if o.AccessMode != "" {
		// Applying the access mode per-transaction, rather than once for
		// the whole session, means it has to take effect before the
		// first real statement can run: piggyback it on the same
		// simple-query string that opens the transaction.
		sql += "; SET TRANSACTION " + string(o.AccessMode)
	}
	return sql
}

// Tx represents an open transaction on a Conn. A Conn can have at most
// one Tx open at a time; nested transactions are modeled as
// savepoints via Tx.Begin.
type Tx struct {
	conn      *Conn
	closed    bool
	savepoint string
	depth     int
}

// Begin opens a transaction, or — if called on an already-open Tx — a
// savepoint nested inside it.
func (c *Conn) Begin(ctx context.Context, opts TxOptions) (*Tx, error) {
	if err := c.execDiscard(ctx, opts.beginSQL()); err != nil {
		return nil, err
	}
	return &Tx{conn: c}, nil
}

// Begin opens a savepoint nested inside tx.
func (tx *Tx) Begin(ctx context.Context) (*Tx, error) {
	name := tx.conn.nextSavepointName()
	if err := tx.conn.execDiscard(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &Tx{conn: tx.conn, savepoint: name, depth: tx.depth + 1}, nil
}

// Commit commits the transaction, or releases the savepoint. A no-op
// if the server already reports Idle — the transaction ended some
// other way (e.g. an error drove it to rollback already) and there is
// nothing left on the server to commit or release.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if tx.conn.txStatus == pgproto3.TxStatusIdle {
		return nil
	}
	if tx.savepoint != "" {
		return tx.conn.execDiscard(ctx, "RELEASE SAVEPOINT "+tx.savepoint)
	}
	return tx.conn.execDiscard(ctx, "COMMIT")
}

// Rollback rolls back the transaction, or to the savepoint. A no-op if
// the server already reports Idle, for the same reason Commit is.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if tx.conn.txStatus == pgproto3.TxStatusIdle {
		return nil
	}
	if tx.savepoint != "" {
		return tx.conn.execDiscard(ctx, "ROLLBACK TO SAVEPOINT "+tx.savepoint)
	}
	return tx.conn.execDiscard(ctx, "ROLLBACK")
}

var errTxClosed = fmt.Errorf("tx is already closed")

// execDiscard runs sql via the simple query protocol and discards every
// row, returning the first error encountered, if any.
func (c *Conn) execDiscard(ctx context.Context, sql string) error {
	mrr, err := c.Exec(ctx, sql)
	if err != nil {
		return err
	}
	return mrr.Close()
}
