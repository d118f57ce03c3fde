// Package pgwire implements the frontend side of the PostgreSQL
// wire protocol: connecting, authenticating, running queries in both
// simple and extended mode, and tracking the session and transaction
// state the server reports back.
package pgwire

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/oxleaf/pgwire/internal/cleaner"
	"github.com/oxleaf/pgwire/internal/hoststatus"
	"github.com/oxleaf/pgwire/internal/stmtcache"
	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/oxleaf/pgwire/transport"
)

type connStatus int32

const (
	connStatusUninitialized connStatus = iota
	connStatusIdle
	connStatusBusy
	connStatusClosed
)

// Conn is a single connection to a PostgreSQL server. It is not safe
// for concurrent use: callers needing concurrency should pool Conns,
// not share one.
type Conn struct {
	cfg *Config

	transport *transport.Transport
	frontend  *pgproto3.Frontend

	pid       uint32
	secretKey uint32

	parameterStatuses map[string]string
	txStatus          byte

	stmtCache stmtcache.Cache

	// execCounts tracks, per SQL text, how many times QueryParams has
	// run it, for the PrepareThreshold policy (decidePrepare).
	execCounts map[string]int

	// binaryOIDs is the effective binary-format Oid set for this Conn,
	// derived once from the package defaults plus
	// Config.BinaryTransferEnable/Disable.
	binaryOIDs binaryOIDSet

	session *sessionState

	tracer Tracer

	notifications []*Notification

	status atomic.Int32

	// leak runs Close's cleanup from a finalizer if the Conn is
	// garbage collected without an explicit Close, guarding against
	// the caller's own resource leak rather than anything this module
	// does; it never resurrects a connection Close already handled.
	leak *cleaner.Cleanable
}

// Notification is one asynchronous NOTIFY payload delivered outside the
// request/response cycle that produced it.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// Connect opens a connection using cfg, trying cfg plus each of
// cfg.Fallbacks in turn until one completes startup, matches
// cfg.TargetSessionAttrs, and, if set, passes cfg.ValidateConnect.
func Connect(ctx context.Context, cfg *Config) (*Conn, error) {
	requirement, err := parseTargetRequirement(cfg.TargetSessionAttrs)
	if err != nil {
		return nil, err
	}

	candidates := make([]*FallbackConfig, 0, 1+len(cfg.Fallbacks))
	candidates = append(candidates, &FallbackConfig{Host: cfg.Host, Port: cfg.Port, TLSConfig: cfg.TLSConfig})
	candidates = append(candidates, cfg.Fallbacks...)

	var firstErr error
	var fallback *Conn
	var sawRoleMismatch bool

	for _, fb := range candidates {
		conn, err := connectOne(ctx, cfg, fb)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		addr, _ := NetworkAddress(fb.Host, fb.Port)
		role, err := resolveHostRole(ctx, conn, requirement, addr)
		if err != nil {
			conn.Close(ctx)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if cfg.ValidateConnect != nil {
			if err := cfg.ValidateConnect(ctx, conn); err != nil {
				conn.Close(ctx)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		matched, fallbackEligible := requirement.matches(role)
		if matched {
			if fallback != nil {
				fallback.Close(ctx)
			}
			return conn, nil
		}

		sawRoleMismatch = true
		if fallbackEligible && fallback == nil {
			fallback = conn
			continue
		}
		conn.Close(ctx)
	}

	if fallback != nil {
		return fallback, nil
	}
	if sawRoleMismatch {
		return nil, &NotPreferredError{err: fmt.Errorf("no candidate host matched target_session_attrs=%q", cfg.TargetSessionAttrs)}
	}
	return nil, &connectError{config: cfg, msg: "exhausted all hosts", err: firstErr}
}

// hostRoleCache remembers each address's last observed read-write/
// read-only role for a short window, so a multi-host connection
// string with TargetSessionAttrs set doesn't re-run SHOW
// transaction_read_only against every fallback on every Connect call.
var hostRoleCache = hoststatus.NewCache(10 * time.Second)

// targetRequirement is the parsed form of Config.TargetSessionAttrs,
// covering both libpq's target_session_attrs and pgjdbc's
// targetServerType spellings of the same multi-host selection policy.
type targetRequirement int

const (
	targetAny targetRequirement = iota
	targetReadWrite
	targetReadOnly
	targetPreferReadWrite
	targetPreferReadOnly
)

func parseTargetRequirement(want string) (targetRequirement, error) {
	switch want {
	case "", "any":
		return targetAny, nil
	case "read-write", "primary":
		return targetReadWrite, nil
	case "read-only", "secondary":
		return targetReadOnly, nil
	case "preferPrimary":
		return targetPreferReadWrite, nil
	case "preferSecondary":
		return targetPreferReadOnly, nil
	default:
		return 0, fmt.Errorf("unrecognized target_session_attrs %q", want)
	}
}

// matches reports whether role satisfies r outright (in which case
// Connect returns the candidate immediately) and, for the two "prefer"
// requirements, whether role is still usable as a fallback when no
// candidate ever matches outright.
func (r targetRequirement) matches(role hoststatus.Role) (matched, fallbackEligible bool) {
	switch r {
	case targetAny:
		return true, false
	case targetReadWrite:
		return role == hoststatus.RolePrimary, false
	case targetReadOnly:
		return role == hoststatus.RoleStandby, false
	case targetPreferReadWrite:
		return role == hoststatus.RolePrimary, true
	case targetPreferReadOnly:
		return role == hoststatus.RoleStandby, true
	}
	return false, false
}

// resolveHostRole reports conn's read-write/read-only role via SHOW
// transaction_read_only, cached per addr, or hoststatus.RoleUnknown
// without a round trip at all when requirement never needs it.
func resolveHostRole(ctx context.Context, conn *Conn, requirement targetRequirement, addr string) (hoststatus.Role, error) {
	if requirement == targetAny {
		return hoststatus.RoleUnknown, nil
	}

	if role, ok := hostRoleCache.Get(addr); ok {
		return role, nil
	}

	mrr, err := conn.Exec(ctx, "SHOW transaction_read_only")
	if err != nil {
		return hoststatus.RoleUnknown, err
	}
	role := hoststatus.RolePrimary
	for mrr.NextResult() {
		rr := mrr.ResultReader()
		if rr.NextRow() && len(rr.Values()) == 1 && string(rr.Values()[0]) == "on" {
			role = hoststatus.RoleStandby
		}
	}
	if err := mrr.Close(); err != nil {
		return hoststatus.RoleUnknown, err
	}
	hostRoleCache.Set(addr, role)
	return role, nil
}

func connectOne(ctx context.Context, cfg *Config, fb *FallbackConfig) (*Conn, error) {
	netConn, err := dialHost(ctx, cfg, fb.Host, fb.Port)
	if err != nil {
		return nil, &connectError{config: cfg, msg: "dial error", err: err}
	}

	t := transport.New(netConn)

	conn := &Conn{
		cfg:               cfg,
		transport:         t,
		parameterStatuses: make(map[string]string),
		execCounts:        make(map[string]int),
		binaryOIDs:        newBinaryOIDSet(cfg),
		session:           newSessionState(cfg),
	}
	conn.status.Store(int32(connStatusUninitialized))

	if cfg.GSSEncMode != "" && cfg.GSSEncMode != "disable" {
		if cfg.GSSAPI == nil {
			if cfg.GSSEncMode == "require" {
				t.Close()
				return nil, &connectError{config: cfg, msg: "gssencmode=require but no GSSAPI provider is configured"}
			}
		} else if err := conn.startGSSEnc(fb.Host); err != nil {
			if cfg.GSSEncMode == "require" {
				t.Close()
				return nil, &connectError{config: cfg, msg: "gss encryption error", err: err}
			}
			// allow/prefer: fall through to SSL/plaintext below.
		}
	}

	if fb.TLSConfig != nil {
		if err := conn.upgradeTLS(fb.TLSConfig); err != nil {
			t.Close()
			return nil, &connectError{config: cfg, msg: "tls error", err: err}
		}
	}

	conn.frontend = pgproto3.NewFrontend(conn.transport, conn.transport)

	loginCtx, cancel := withTimeout(ctx, cfg.LoginTimeout)
	defer cancel()
	if err := conn.startup(loginCtx, fb.Host); err != nil {
		t.Close()
		return nil, err
	}

	conn.status.Store(int32(connStatusIdle))

	leakTransport := conn.transport
	conn.leak = cleaner.Default.Register(func() {
		leakTransport.Close()
	})

	return conn, nil
}

// dialHost resolves host through cfg.LookupFunc, if set, trying each
// returned address in turn, and falls back to dialing host directly
// when there is no LookupFunc or host is a Unix socket path.
func dialHost(ctx context.Context, cfg *Config, host string, port uint16) (net.Conn, error) {
	network, address := NetworkAddress(host, port)
	if cfg.LookupFunc == nil || network == "unix" {
		return cfg.DialFunc(ctx, network, address)
	}

	addrs, err := cfg.LookupFunc(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup of %q returned no addresses", host)
	}

	var firstErr error
	for _, addr := range addrs {
		_, resolved := NetworkAddress(addr, port)
		netConn, err := cfg.DialFunc(ctx, network, resolved)
		if err == nil {
			return netConn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Close sends Terminate and closes the underlying transport.
func (c *Conn) Close(ctx context.Context) error {
	if connStatus(c.status.Load()) == connStatusClosed {
		return nil
	}
	c.status.Store(int32(connStatusClosed))

	c.transport.WatchContext(ctx)
	defer c.transport.UnwatchContext()

	if err := c.frontend.Send(&pgproto3.Terminate{}); err == nil {
		c.frontend.Flush()
	}

	err := c.transport.Close()
	if c.leak != nil {
		c.leak.Clean()
	}
	return err
}

// IsClosed reports whether Close has been called or the connection was
// abandoned after an unrecoverable I/O error.
func (c *Conn) IsClosed() bool {
	return connStatus(c.status.Load()) == connStatusClosed
}

// PID returns the backend process ID reported during startup.
func (c *Conn) PID() uint32 { return c.pid }

// TxStatus returns the transaction status byte from the most recently
// received ReadyForQuery: TxStatusIdle, TxStatusInTransaction, or
// TxStatusInFailedTransaction.
func (c *Conn) TxStatus() byte { return c.txStatus }

// ParameterStatus returns the last reported value of GUC name, or "" if
// the server never reported it.
func (c *Conn) ParameterStatus(name string) string { return c.parameterStatuses[name] }

// Trace installs t to observe query lifecycle events. Pass nil to
// disable tracing. For a raw wire-level dump use pgproto3.NewTracer
// and Conn.TraceWire instead.
func (c *Conn) Trace(t Tracer) {
	c.tracer = t
}

// TraceWire installs a pgproto3.Tracer to log every message sent and
// received in wire form. Pass nil to stop.
func (c *Conn) TraceWire(t *pgproto3.Tracer) {
	if t != nil {
		c.frontend.Trace(t)
	} else {
		c.frontend.Untrace()
	}
}

// withTimeout derives a context bounded by d from ctx, unless ctx
// already carries a deadline or d is zero, in which case ctx is
// returned unchanged (and cancel is a no-op).
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (c *Conn) lock() error {
	if connStatus(c.status.Load()) == connStatusClosed {
		return &connLockError{status: "conn is closed"}
	}
	if !c.status.CompareAndSwap(int32(connStatusIdle), int32(connStatusBusy)) {
		return &connLockError{status: "conn is busy"}
	}
	return nil
}

func (c *Conn) unlock() {
	c.status.CompareAndSwap(int32(connStatusBusy), int32(connStatusIdle))
}

func (c *Conn) asyncClose() {
	c.status.Store(int32(connStatusClosed))
	if c.leak != nil {
		c.leak.Clean()
	}
	go c.transport.Close()
}

func fieldsToPgError(msg *pgproto3.ErrorResponse) *PgError {
	return &PgError{
		Severity:         msg.Severity,
		Code:             msg.Code,
		Message:          msg.Message,
		Detail:           msg.Detail,
		Hint:             msg.Hint,
		Position:         msg.Position,
		InternalPosition: msg.InternalPosition,
		InternalQuery:    msg.InternalQuery,
		Where:            msg.Where,
		SchemaName:       msg.SchemaName,
		TableName:        msg.TableName,
		ColumnName:       msg.ColumnName,
		DataTypeName:     msg.DataTypeName,
		ConstraintName:   msg.ConstraintName,
		File:             msg.File,
		Line:             msg.Line,
		Routine:          msg.Routine,
	}
}

func unexpectedMessageErr(expected string, got pgproto3.BackendMessage) error {
	return fmt.Errorf("unexpected message while waiting for %s: %#v", expected, got)
}
