// Package pgwirelog adapts a zerolog.Logger into a pgwire.Tracer, in the
// spirit of pgx's tracelog/zerologadapter pair: one type logs query
// start/end and notices, the zerolog level mapping lives right next to
// it instead of behind a second logging facade.
package pgwirelog

import (
	"context"
	"time"

	"github.com/oxleaf/pgwire"
	"github.com/rs/zerolog"
)

type ctxKey int

const queryStartCtxKey ctxKey = iota

type queryStartData struct {
	startTime time.Time
	sql       string
	args      []any
}

// Tracer implements pgwire.Tracer by writing one structured log line per
// query and per server notice.
type Tracer struct {
	Logger zerolog.Logger
}

// NewTracer returns a Tracer writing to logger, tagged with a "module"
// field the way the teacher's zerolog adapter tags its lines.
func NewTracer(logger zerolog.Logger) *Tracer {
	return &Tracer{Logger: logger.With().Str("module", "pgwire").Logger()}
}

func (t *Tracer) TraceQueryStart(ctx context.Context, conn *pgwire.Conn, data pgwire.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartCtxKey, &queryStartData{
		startTime: time.Now(),
		sql:       data.SQL,
		args:      data.Args,
	})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, conn *pgwire.Conn, data pgwire.TraceQueryEndData) {
	started, _ := ctx.Value(queryStartCtxKey).(*queryStartData)

	event := t.Logger.Info()
	if data.Err != nil {
		event = t.Logger.Error().Err(data.Err)
	}

	event = event.Uint32("pid", conn.PID())
	if started != nil {
		event = event.Str("sql", started.sql).Dur("duration", time.Since(started.startTime))
	}
	if data.CommandTag != "" {
		event = event.Str("commandTag", data.CommandTag)
	}
	event.Msg("query")
}

func (t *Tracer) TraceNotice(notice *pgwire.PgError) {
	t.Logger.Warn().
		Str("severity", notice.Severity).
		Str("code", notice.Code).
		Msg(notice.Message)
}
