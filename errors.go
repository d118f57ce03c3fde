package pgwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// SQLSTATE codes a caller may want to switch on directly, without
// constructing a PgError literal. Not exhaustive, but covers the
// classes callers most often branch on.
const (
	SQLStateSuccessfulCompletion            = "00000"
	SQLStateWarning                         = "01000"
	SQLStateNoData                          = "02000"
	SQLStateConnectionException             = "08000"
	SQLStateConnectionDoesNotExist          = "08003"
	SQLStateConnectionFailure               = "08006"
	SQLStateProtocolViolation               = "08P01"
	SQLStateInvalidTransactionState         = "25000"
	SQLStateInFailedSQLTransaction          = "25P02"
	SQLStateInvalidAuthorizationSpec        = "28000"
	SQLStateInvalidPassword                 = "28P01"
	SQLStateInsufficientPrivilege           = "42501"
	SQLStateUndefinedTable                  = "42P01"
	SQLStateUndefinedColumn                 = "42703"
	SQLStateDuplicateObject                 = "42710"
	SQLStateNotNullViolation                = "23502"
	SQLStateForeignKeyViolation             = "23503"
	SQLStateUniqueViolation                 = "23505"
	SQLStateCheckViolation                  = "23514"
	SQLStateInvalidCursorName               = "34000"
	SQLStateInvalidSQLStatementName         = "26000"
	SQLStateTooManyConnections              = "53300"
	SQLStateLockNotAvailable                = "55P03"
	SQLStateAdminShutdown                   = "57P01"
	SQLStateCrashShutdown                   = "57P02"
	SQLStateCannotConnectNow                = "57P03"
	SQLStateQueryCanceled                   = "57014"
	SQLStateSerializationFailure            = "40001"
	SQLStateDeadlockDetected                = "40P01"
	SQLStateIdleInTransactionSessionTimeout = "25P03"
	SQLStateFeatureNotSupported             = "0A000"
)

// SafeToRetry reports whether err is guaranteed to have occurred before
// anything reached the server, and so the same operation can be
// retried on a fresh connection without risk of re-executing it.
func SafeToRetry(err error) bool {
	var e interface{ SafeToRetry() bool }
	if errors.As(err, &e) {
		return e.SafeToRetry()
	}
	return false
}

// Timeout reports whether err was ultimately caused by a deadline or
// context cancellation rather than a protocol or server error.
func Timeout(err error) bool {
	var timeoutErr *errTimeout
	return errors.As(err, &timeoutErr)
}

// PgError is the decoded form of a server ErrorResponse, holding every
// field defined by the wire protocol's error-field-code table.
type PgError struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// SQLState returns the five-character SQLSTATE code.
func (pe *PgError) SQLState() string {
	return pe.Code
}

type connectError struct {
	config *Config
	msg    string
	err    error
}

func (e *connectError) Error() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "failed to connect to `host=%s user=%s database=%s`: %s", e.config.Host, e.config.User, e.config.Database, e.msg)
	if e.err != nil {
		fmt.Fprintf(sb, " (%s)", e.err.Error())
	}
	return sb.String()
}

func (e *connectError) Unwrap() error { return e.err }

type connLockError struct {
	status string
}

func (e *connLockError) SafeToRetry() bool { return true }
func (e *connLockError) Error() string     { return e.status }

type parseConfigError struct {
	connString string
	msg        string
	err        error
}

func (e *parseConfigError) Error() string {
	connString := redactPW(e.connString)
	if e.err == nil {
		return fmt.Sprintf("cannot parse `%s`: %s", connString, e.msg)
	}
	return fmt.Sprintf("cannot parse `%s`: %s (%s)", connString, e.msg, e.err.Error())
}

func (e *parseConfigError) Unwrap() error { return e.err }

func normalizeTimeoutError(ctx context.Context, err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		switch ctx.Err() {
		case context.Canceled:
			return context.Canceled
		case context.DeadlineExceeded:
			return &errTimeout{err: ctx.Err()}
		default:
			return &errTimeout{err: netErr}
		}
	}
	return err
}

type pgwireError struct {
	msg         string
	err         error
	safeToRetry bool
}

func (e *pgwireError) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err.Error())
}

func (e *pgwireError) SafeToRetry() bool { return e.safeToRetry }
func (e *pgwireError) Unwrap() error     { return e.err }

// errTimeout wraps an error caused by a deadline or context
// cancellation so Timeout(err) can identify it.
type errTimeout struct {
	err error
}

func (e *errTimeout) Error() string     { return fmt.Sprintf("timeout: %s", e.err.Error()) }
func (e *errTimeout) SafeToRetry() bool { return SafeToRetry(e.err) }
func (e *errTimeout) Unwrap() error     { return e.err }

type contextAlreadyDoneError struct {
	err error
}

func (e *contextAlreadyDoneError) Error() string {
	return fmt.Sprintf("context already done: %s", e.err.Error())
}
func (e *contextAlreadyDoneError) SafeToRetry() bool { return true }
func (e *contextAlreadyDoneError) Unwrap() error     { return e.err }

func newContextAlreadyDoneError(ctx context.Context) error {
	return &errTimeout{&contextAlreadyDoneError{err: ctx.Err()}}
}

func redactPW(connString string) string {
	if strings.HasPrefix(connString, "postgres://") || strings.HasPrefix(connString, "postgresql://") {
		if u, err := url.Parse(connString); err == nil {
			return redactURL(u)
		}
	}
	quotedDSN := regexp.MustCompile(`password='[^']*'`)
	connString = quotedDSN.ReplaceAllLiteralString(connString, "password=xxxxx")
	plainDSN := regexp.MustCompile(`password=[^ ]*`)
	connString = plainDSN.ReplaceAllLiteralString(connString, "password=xxxxx")
	brokenURL := regexp.MustCompile(`:[^:@]+?@`)
	connString = brokenURL.ReplaceAllLiteralString(connString, ":xxxxxx@")
	return connString
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if _, pwSet := u.User.Password(); pwSet {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// NotPreferredError is returned by Connect when no candidate host in a
// multi-host connection string matched the requested
// target_session_attrs, at least one candidate completed startup and
// reported a non-matching role, and no prefer* fallback was available.
// Other candidates may have failed to connect at all.
type NotPreferredError struct {
	err         error
	safeToRetry bool
}

func (e *NotPreferredError) Error() string {
	return fmt.Sprintf("no suitable server found: %s", e.err.Error())
}
func (e *NotPreferredError) SafeToRetry() bool { return e.safeToRetry }
func (e *NotPreferredError) Unwrap() error     { return e.err }
