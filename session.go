package pgwire

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/oxleaf/pgwire/pgproto3"
)

// ReadOnlyMode selects how a Conn applies Config.ReadOnly.
type ReadOnlyMode string

const (
	// ReadOnlyModeIgnore records ReadOnly but never sends anything to
	// the server for it.
	ReadOnlyModeIgnore ReadOnlyMode = "ignore"
	// ReadOnlyModeTransaction applies ReadOnly at BEGIN time, as
	// "BEGIN READ ONLY", for every transaction opened while it is set.
	ReadOnlyModeTransaction ReadOnlyMode = "transaction"
	// ReadOnlyModeAlways applies ReadOnly once for the whole session via
	// SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY.
	ReadOnlyModeAlways ReadOnlyMode = "always"
)

// AutosaveMode selects when Conn.ExecStatement wraps a statement in a
// SAVEPOINT so a per-statement failure doesn't abort the whole
// transaction.
type AutosaveMode string

const (
	AutosaveNever        AutosaveMode = "never"
	AutosaveConservative AutosaveMode = "conservative"
	AutosaveAlways       AutosaveMode = "always"
)

// sessionState is the C5 bookkeeping layered on top of the raw
// Conn.txStatus byte: autocommit, read-only application, autosave,
// savepoint naming, client-info, and the warning chain NoticeResponse
// accumulates into.
type sessionState struct {
	autocommit   bool
	readOnly     bool
	readOnlyMode ReadOnlyMode
	autosave     AutosaveMode

	savepointSeq int

	clientInfo map[string]string
	warnings   []*PgError
}

func newSessionState(cfg *Config) *sessionState {
	mode := cfg.ReadOnlyMode
	if mode == "" {
		mode = ReadOnlyModeIgnore
	}
	autosave := cfg.Autosave
	if autosave == "" {
		autosave = AutosaveNever
	}
	return &sessionState{
		autocommit:   !cfg.AutocommitOff,
		readOnly:     cfg.ReadOnly,
		readOnlyMode: mode,
		autosave:     autosave,
		clientInfo:   make(map[string]string),
	}
}

// Warnings returns every NoticeResponse accumulated since the last call
// to ClearWarnings.
func (c *Conn) Warnings() []*PgError {
	return append([]*PgError(nil), c.session.warnings...)
}

// ClearWarnings drops the accumulated warning chain.
func (c *Conn) ClearWarnings() {
	c.session.warnings = nil
}

// ClientInfo returns the value previously set for name via
// SetClientInfo, or "" if never set.
func (c *Conn) ClientInfo(name string) string {
	return c.session.clientInfo[name]
}

// SetClientInfo records an arbitrary name/value pair for the
// application's own bookkeeping. It is never sent to the server; it
// exists so driver-facade code can stash per-connection metadata
// (e.g. "ApplicationName" overrides) without a side channel.
func (c *Conn) SetClientInfo(name, value string) {
	c.session.clientInfo[name] = value
}

// nextSavepointName returns a fresh, connection-unique savepoint
// identifier for anonymous (non-Tx) uses such as autosave.
func (c *Conn) nextSavepointName() string {
	c.session.savepointSeq++
	return fmt.Sprintf("pgwire_autosave_%d", c.session.savepointSeq)
}

// SetReadOnly applies readOnly under the Conn's configured
// ReadOnlyMode, per spec §4.5:
//
//   - Ignore: recorded only, never enforced on the wire.
//   - Transaction: applied lazily, at the next BEGIN ExecStatement
//     issues.
//   - Always: applied immediately via SET SESSION CHARACTERISTICS,
//     and only while the Conn is idle (changing transaction-scoped
//     settings mid-transaction is a protocol violation the server
//     rejects with InvalidTransactionState).
func (c *Conn) SetReadOnly(ctx context.Context, readOnly bool) error {
	c.session.readOnly = readOnly

	if c.session.readOnlyMode != ReadOnlyModeAlways {
		return nil
	}
	if c.txStatus != pgproto3.TxStatusIdle {
		return &PgError{
			Severity: "ERROR",
			Code:     SQLStateInvalidTransactionState,
			Message:  "cannot change read-only mode inside a transaction",
		}
	}

	mode := "READ WRITE"
	if readOnly {
		mode = "READ ONLY"
	}
	return c.execDiscard(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION "+mode)
}

// beginPrefix returns the leading "BEGIN[ READ ONLY]" statement
// ExecStatement prepends when autocommit is off and no transaction is
// already open, or "" if none is needed.
func (c *Conn) beginPrefix() string {
	if c.session.autocommit || c.txStatus != pgproto3.TxStatusIdle {
		return ""
	}
	if c.session.readOnlyMode == ReadOnlyModeTransaction && c.session.readOnly {
		return "BEGIN READ ONLY"
	}
	return "BEGIN"
}

var dmlLeadingWord = regexp.MustCompile(`(?i)^\s*(SELECT|INSERT|UPDATE|DELETE|MERGE|WITH)\b`)

// looksLikeDML is the conservative-autosave test: only statements whose
// failure mode is "this one statement had a problem" (a SELECT with a
// bad cast, a constraint violation) are worth wrapping in a savepoint.
// DDL and utility statements are left alone even under
// AutosaveConservative since they rarely benefit from the retry this
// buys and conservative mode exists specifically to avoid the
// savepoint-per-statement overhead AutosaveAlways accepts.
func looksLikeDML(sql string) bool {
	return dmlLeadingWord.MatchString(sql)
}

// ExecStatement is the engine entry point ordinary application
// statements run through: it prepends an implicit BEGIN when
// autocommit is off and wraps the statement in a SAVEPOINT when
// autosave calls for it, per spec §4.4's "Auto-save" and
// "Suppress-begin flag". suppressBegin skips both behaviors, for
// utility statements (COMMIT, ROLLBACK, SET ISOLATION, SAVEPOINT
// itself) that must run without implicitly opening a transaction or
// being wrapped in their own savepoint.
func (c *Conn) ExecStatement(ctx context.Context, sql string, suppressBegin bool) (StatementResult, error) {
	if suppressBegin {
		return c.Exec(ctx, sql)
	}

	var prefix []string
	if p := c.beginPrefix(); p != "" {
		prefix = append(prefix, p)
	}

	useAutosave := c.txStatus != pgproto3.TxStatusIdle &&
		(c.session.autosave == AutosaveAlways ||
			(c.session.autosave == AutosaveConservative && looksLikeDML(sql)))

	if !useAutosave {
		full := sql
		if len(prefix) > 0 {
			full = strings.Join(prefix, "; ") + "; " + sql
		}
		return c.Exec(ctx, full)
	}

	savepoint := c.nextSavepointName()
	full := strings.Join(append(prefix, "SAVEPOINT "+savepoint, sql), "; ")

	mrr, err := c.Exec(ctx, full)
	if err != nil {
		return nil, err
	}

	// Drain the BEGIN/SAVEPOINT result sets (no rows, no error expected
	// unless something is very wrong) before handing the caller the
	// result set for sql itself.
	for i := 0; i < len(prefix)+1; i++ {
		if !mrr.NextResult() {
			return mrr, mrr.err
		}
		if rr := mrr.ResultReader(); rr.Err() != nil {
			return mrr, rr.Err()
		}
	}
	if !mrr.NextResult() {
		return mrr, mrr.err
	}

	return &autosaveResultReader{MultiResultReader: mrr, savepoint: savepoint}, nil
}

// StatementResult is what ExecStatement returns: either a
// *MultiResultReader directly, or an *autosaveResultReader wrapping
// one when the statement was autosave-wrapped in a SAVEPOINT.
type StatementResult interface {
	NextResult() bool
	ResultReader() *ResultReader
	Close() error
}

// autosaveResultReader wraps the MultiResultReader positioned at the
// caller's actual statement so Close releases or rolls back to the
// savepoint ExecStatement planted ahead of it, instead of leaving that
// cleanup to the caller.
type autosaveResultReader struct {
	*MultiResultReader
	savepoint string
	done      bool
}

// Close drains the statement's result, then releases the savepoint on
// success or rolls back to it on failure so the surrounding
// transaction survives a single statement's error, per spec §4.4's
// Auto-save scenario.
func (a *autosaveResultReader) Close() error {
	if a.done {
		return a.MultiResultReader.err
	}
	a.done = true

	stmtErr := a.MultiResultReader.Close()

	conn := a.MultiResultReader.conn
	cleanup := "RELEASE SAVEPOINT " + a.savepoint
	if stmtErr != nil {
		cleanup = "ROLLBACK TO SAVEPOINT " + a.savepoint
	}
	if err := conn.execDiscard(a.MultiResultReader.ctx, cleanup); err != nil && stmtErr == nil {
		return err
	}
	return stmtErr
}
