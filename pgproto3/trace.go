package pgproto3

import (
	"fmt"
	"io"
	"time"
)

// Tracer writes a line per message sent or received to w, similar in
// spirit to libpq's PQtrace. It is intended for protocol-level debugging,
// not for production logging (see the pgwirelog package for that).
type Tracer struct {
	w          io.Writer
	TimeFormat string
}

// NewTracer returns a Tracer that writes to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w, TimeFormat: time.RFC3339Nano}
}

func (t *Tracer) traceMessage(sender byte, wireLen int, msg Message) {
	fmt.Fprintf(t.w, "%s\t%c\t%d\t%T\t%+v\n", time.Now().Format(t.TimeFormat), sender, wireLen, msg, msg)
}
