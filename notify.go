package pgwire

import (
	"context"
	"time"

	"github.com/oxleaf/pgwire/pgproto3"
)

// handleNotice records a NOTICE (or any other non-error diagnostic the
// server chooses to send) onto the session warning chain and, if one
// is installed, hands it to the Tracer too. Notices never interrupt
// the in-flight query/response cycle.
func (c *Conn) handleNotice(msg *pgproto3.ErrorResponse) {
	pgErr := fieldsToPgError(msg)
	c.session.warnings = append(c.session.warnings, pgErr)

	if c.tracer != nil {
		c.tracer.TraceNotice(pgErr)
	}
}

// handleNotification queues an asynchronous NOTIFY for delivery by
// WaitForNotification, or by whatever surfaces Conn.Notifications.
func (c *Conn) handleNotification(msg *pgproto3.NotificationResponse) {
	c.notifications = append(c.notifications, &Notification{
		PID:     msg.PID,
		Channel: msg.Channel,
		Payload: msg.Payload,
	})
}

// Notifications drains and returns every NOTIFY received since the last
// call. Call this after Query/Exec returns to pick up notifications
// that arrived interleaved with query results.
func (c *Conn) Notifications() []*Notification {
	if len(c.notifications) == 0 {
		return nil
	}
	n := c.notifications
	c.notifications = nil
	return n
}

// WaitForNotification returns the oldest queued NOTIFY, if any are
// already buffered, or else performs one bounded read for the next
// one to arrive on the wire, per spec.md §4.6's get_notifications
// semantics. timeout <= 0 waits until ctx itself is done. If the
// bounded read's own deadline elapses with nothing received, it
// returns (nil, nil) rather than an error — an empty poll isn't a
// failure — but an error from ctx or the connection itself still is.
func (c *Conn) WaitForNotification(ctx context.Context, timeout time.Duration) (*Notification, error) {
	if len(c.notifications) > 0 {
		n := c.notifications[0]
		c.notifications = c.notifications[1:]
		return n, nil
	}

	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.unlock()

	waitCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	c.transport.WatchContext(waitCtx)
	defer c.transport.UnwatchContext()

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// The bounded read's own deadline fired, not the
				// caller's ctx: an empty poll, not a failure.
				return nil, nil
			}
			c.handleWriteError(err)
			return nil, &pgwireError{msg: "failed to receive notification", err: normalizeTimeoutError(waitCtx, err)}
		}

		switch m := msg.(type) {
		case *pgproto3.NotificationResponse:
			c.handleNotification(m)
			n := c.notifications[0]
			c.notifications = c.notifications[1:]
			return n, nil

		case *pgproto3.ParameterStatus:
			c.parameterStatuses[m.Name] = m.Value

		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))

		default:
			return nil, unexpectedMessageErr("notification wait", msg)
		}
	}
}
