package pgwire

import "context"

// Tracer observes the lifecycle of queries run on a Conn. Implementations
// must not block or call back into the Conn that invoked them.
type Tracer interface {
	// TraceQueryStart is called before a query is sent to the server.
	// The returned context replaces ctx for the remainder of the call
	// and is passed back to TraceQueryEnd, letting an implementation
	// stash a start time or span in it.
	TraceQueryStart(ctx context.Context, conn *Conn, data TraceQueryStartData) context.Context

	// TraceQueryEnd is called once a query's results have been fully
	// consumed, whether it succeeded or failed.
	TraceQueryEnd(ctx context.Context, conn *Conn, data TraceQueryEndData)

	// TraceNotice is called for every NOTICE the server sends, including
	// ones that arrive outside any query (e.g. during COMMIT).
	TraceNotice(notice *PgError)
}

// TraceQueryStartData is passed to Tracer.TraceQueryStart.
type TraceQueryStartData struct {
	SQL  string
	Args []any
}

// TraceQueryEndData is passed to Tracer.TraceQueryEnd.
type TraceQueryEndData struct {
	CommandTag string
	Err        error
}
