package pgwire

import (
	"context"
	"errors"
	"time"

	"github.com/oxleaf/pgwire/pgproto3"
)

// recoverDeadline bounds how long asyncRecover will wait for the server
// to finish the canceled request and reach ReadyForQuery.
const recoverDeadline = 15 * time.Second

func timeFromNow(d time.Duration) time.Time { return time.Now().Add(d) }
func timeZero() time.Time                   { return time.Time{} }

// handleWriteError is called whenever a message exchange fails. A
// failure caused by the caller's own context being canceled is
// recoverable: the server will still finish whatever it was doing and
// report a query-canceled error, so a background goroutine drains the
// socket back to ReadyForQuery and the Conn can be reused. Any other
// I/O error leaves the connection in an unknown state, so it is closed.
func (c *Conn) handleWriteError(err error) {
	if Timeout(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.asyncRecover()
		return
	}
	c.asyncClose()
}

// asyncRecover spawns a goroutine that waits for the in-flight request
// to finish on the server (tolerating the query-canceled error this
// produces), rolls back any transaction left open, and restores the
// Conn to idle. The Conn stays locked (busy) for the caller until this
// completes, so a subsequent operation naturally blocks on lock().
func (c *Conn) asyncRecover() {
	go func() {
		recoverCtx := context.Background()
		c.transport.SetDeadline(timeFromNow(recoverDeadline))

		if err := c.drainToReadyForQuery(); err != nil {
			c.asyncClose()
			return
		}

		if c.txStatus == pgproto3.TxStatusInTransaction || c.txStatus == pgproto3.TxStatusInFailedTransaction {
			if err := c.simpleExecLocked(recoverCtx, "ROLLBACK"); err != nil {
				c.asyncClose()
				return
			}
		}

		c.transport.SetDeadline(timeZero())
		c.unlock()
	}()
}

// drainToReadyForQuery reads messages until ReadyForQuery, treating a
// query-canceled ErrorResponse as expected rather than fatal.
func (c *Conn) drainToReadyForQuery() error {
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return nil

		case *pgproto3.ErrorResponse:
			if m.Code != SQLStateQueryCanceled {
				return fieldsToPgError(m)
			}

		case *pgproto3.ParameterStatus:
			c.parameterStatuses[m.Name] = m.Value

		case *pgproto3.NotificationResponse:
			c.handleNotification(m)
		}
	}
}

// simpleExecLocked runs sql via the simple query protocol without
// acquiring the Conn lock, for use by code that already holds it (the
// recovery goroutine, which is restoring the Conn it already locked).
func (c *Conn) simpleExecLocked(ctx context.Context, sql string) error {
	if err := c.frontend.Send(&pgproto3.Query{String: sql}); err != nil {
		return err
	}
	if err := c.frontend.Flush(); err != nil {
		return err
	}
	return c.drainToReadyForQuery()
}
