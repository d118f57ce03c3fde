// Package stmtcache caches server-side prepared statement descriptions
// across query executions on the same connection.
package stmtcache

import (
	"hash/fnv"
	"strconv"

	"github.com/oxleaf/pgwire/pgproto3"
)

// StatementDescription is everything learned about a prepared
// statement from ParseComplete/ParameterDescription/RowDescription,
// kept so a later execution of the same SQL can skip re-parsing.
type StatementDescription struct {
	Name      string
	SQL       string
	ParamOIDs []uint32
	Fields    []pgproto3.FieldDescription
}

// StatementName derives a statement name that is stable for the same
// sql text across connections and process restarts, so a statement
// prepared by one connection is recognizable as "the same" by another.
func StatementName(sql string) string {
	h := fnv.New64a()
	h.Write([]byte(sql))
	return "pgwire_" + strconv.FormatUint(h.Sum64(), 10)
}

// Cache caches StatementDescriptions keyed by SQL text.
type Cache interface {
	// Get returns the statement description for sql, or nil if absent.
	Get(sql string) *StatementDescription

	// Put stores sd, keyed by sd.SQL. Put panics if sd.SQL is empty.
	// Put is a no-op if sd.SQL is already present or was invalidated
	// and HandleInvalidated has not yet been called.
	Put(sd *StatementDescription)

	// Invalidate drops the statement description for sql, if any.
	Invalidate(sql string)

	// InvalidateAll drops every cached statement description, e.g.
	// after a DISCARD ALL or a DDL change the server reported.
	InvalidateAll()

	// HandleInvalidated returns every statement description
	// invalidated since the last call to HandleInvalidated. The
	// caller is expected to send Close messages for each.
	HandleInvalidated() []*StatementDescription

	// Len reports the number of statements currently cached.
	Len() int

	// Cap reports the maximum number of statements the cache will hold.
	Cap() int
}
