package pgwire

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oxleaf/pgwire/pgproto3"
)

const (
	walData             = 'w'
	senderKeepalive     = 'k'
	standbyStatusUpdate = 'r'
)

var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// FormatLSN renders lsn in the XXX/XXX form PostgreSQL itself reports.
func FormatLSN(lsn uint64) string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// ParseLSN parses the XXX/XXX form PostgreSQL reports back into the
// 64-bit integer used on the wire.
func ParseLSN(lsn string) (uint64, error) {
	var upper, lower uint32
	n, err := fmt.Sscanf(lsn, "%X/%X", &upper, &lower)
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("invalid LSN %q", lsn)
	}
	return uint64(upper)<<32 | uint64(lower), nil
}

// WalMessage is one chunk of WAL payload delivered during replication.
type WalMessage struct {
	WalStart     uint64
	ServerWalEnd uint64
	ServerTime   uint64
	WalData      []byte
}

// Time returns the server-reported send time of this message.
func (w *WalMessage) Time() time.Time {
	return pgEpoch.Add(time.Duration(w.ServerTime) * time.Microsecond)
}

// ServerHeartbeat is a periodic keepalive sent by the server during
// replication, independent of WAL payload.
type ServerHeartbeat struct {
	ServerWalEnd   uint64
	ServerTime     uint64
	ReplyRequested bool
}

func (s *ServerHeartbeat) Time() time.Time {
	return pgEpoch.Add(time.Duration(s.ServerTime) * time.Microsecond)
}

// ReplicationMessage wraps the two kinds of CopyData submessage a
// replication connection can receive. Exactly one field is non-nil.
type ReplicationMessage struct {
	WalMessage      *WalMessage
	ServerHeartbeat *ServerHeartbeat
}

// StandbyStatus is the client-side heartbeat reporting WAL positions
// back to the server, keeping the replication slot's restart point
// advancing.
type StandbyStatus struct {
	WalWritePosition uint64
	WalFlushPosition uint64
	WalApplyPosition uint64
	ReplyRequested   bool
}

// NewStandbyStatus builds a StandbyStatus with all three WAL positions
// set to lsn and ClientTime set to now.
func NewStandbyStatus(lsn uint64) *StandbyStatus {
	return &StandbyStatus{WalWritePosition: lsn, WalFlushPosition: lsn, WalApplyPosition: lsn}
}

// StartReplication begins logical replication from a slot, issuing
// START_REPLICATION over the simple query protocol and waiting for the
// server's CopyBothResponse that confirms the stream has started. The
// caller drives the stream afterward with ReceiveReplicationMessage and
// SendStandbyStatus.
func (c *Conn) StartReplication(ctx context.Context, slotName string, startLSN uint64, timeline int64, pluginArguments ...string) error {
	sql := fmt.Sprintf("START_REPLICATION SLOT %s LOGICAL %s", slotName, FormatLSN(startLSN))
	if timeline >= 0 {
		sql = fmt.Sprintf("START_REPLICATION SLOT %s LOGICAL %s TIMELINE %d", slotName, FormatLSN(startLSN), timeline)
	}
	for _, arg := range pluginArguments {
		sql += " " + arg
	}

	if err := c.lock(); err != nil {
		return err
	}

	c.transport.WatchContext(ctx)
	if err := c.frontend.Send(&pgproto3.Query{String: sql}); err != nil {
		c.transport.UnwatchContext()
		c.unlock()
		return &pgwireError{msg: "failed to write START_REPLICATION", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return &pgwireError{msg: "failed to write START_REPLICATION", err: normalizeTimeoutError(ctx, err)}
	}

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.transport.UnwatchContext()
			c.handleWriteError(err)
			return &pgwireError{msg: "failed to start replication", err: normalizeTimeoutError(ctx, err)}
		}
		switch m := msg.(type) {
		case *pgproto3.CopyBothResponse:
			// Stream is live. Context stays watched and the Conn stays
			// locked for the duration of the replication stream;
			// StopReplication releases both.
			return nil
		case *pgproto3.ErrorResponse:
			c.transport.UnwatchContext()
			c.unlock()
			return fieldsToPgError(m)
		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))
		case *pgproto3.ParameterStatus:
			c.parameterStatuses[m.Name] = m.Value
		default:
			c.transport.UnwatchContext()
			c.unlock()
			return unexpectedMessageErr("replication start", msg)
		}
	}
}

// ReceiveReplicationMessage blocks for the next WAL or heartbeat
// message. It does not watch ctx itself: the context passed to
// StartReplication stays watched for the whole stream, and cancelling
// that one interrupts the read. ctx here only shapes the returned error.
func (c *Conn) ReceiveReplicationMessage(ctx context.Context) (*ReplicationMessage, error) {
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			return nil, &pgwireError{msg: "failed to receive replication message", err: normalizeTimeoutError(ctx, err)}
		}

		switch m := msg.(type) {
		case *pgproto3.CopyData:
			if len(m.Data) == 0 {
				continue
			}
			switch m.Data[0] {
			case walData:
				if len(m.Data) < 25 {
					return nil, fmt.Errorf("short WAL data submessage: %d bytes", len(m.Data))
				}
				return &ReplicationMessage{WalMessage: &WalMessage{
					WalStart:     binary.BigEndian.Uint64(m.Data[1:9]),
					ServerWalEnd: binary.BigEndian.Uint64(m.Data[9:17]),
					ServerTime:   binary.BigEndian.Uint64(m.Data[17:25]),
					WalData:      m.Data[25:],
				}}, nil
			case senderKeepalive:
				if len(m.Data) < 18 {
					return nil, fmt.Errorf("short keepalive submessage: %d bytes", len(m.Data))
				}
				return &ReplicationMessage{ServerHeartbeat: &ServerHeartbeat{
					ServerWalEnd:   binary.BigEndian.Uint64(m.Data[1:9]),
					ServerTime:     binary.BigEndian.Uint64(m.Data[9:17]),
					ReplyRequested: m.Data[17] != 0,
				}}, nil
			default:
				return nil, fmt.Errorf("unrecognized replication submessage type %q", m.Data[0])
			}

		case *pgproto3.NoticeResponse:
			c.handleNotice((*pgproto3.ErrorResponse)(m))

		case *pgproto3.ErrorResponse:
			return nil, fieldsToPgError(m)

		case *pgproto3.CopyDone:
			return nil, nil

		default:
			return nil, unexpectedMessageErr("replication message", msg)
		}
	}
}

// SendStandbyStatus reports the client's WAL positions back to the
// server, both acknowledging received WAL and keeping the connection
// alive.
func (c *Conn) SendStandbyStatus(s *StandbyStatus) error {
	body := make([]byte, 0, 34)
	body = append(body, standbyStatusUpdate)
	body = binary.BigEndian.AppendUint64(body, s.WalWritePosition)
	body = binary.BigEndian.AppendUint64(body, s.WalFlushPosition)
	body = binary.BigEndian.AppendUint64(body, s.WalApplyPosition)
	body = binary.BigEndian.AppendUint64(body, uint64(time.Since(pgEpoch).Microseconds()))
	if s.ReplyRequested {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}

	if err := c.frontend.Send(&pgproto3.CopyData{Data: body}); err != nil {
		return &pgwireError{msg: "failed to write standby status", err: err}
	}
	return c.frontend.Flush()
}

// StopReplication sends CopyDone to end the replication stream and
// marks the Conn idle again once the server's trailing
// CommandComplete/ReadyForQuery arrives.
func (c *Conn) StopReplication(ctx context.Context) error {
	if err := c.frontend.Send(&pgproto3.CopyDone{}); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return &pgwireError{msg: "failed to write CopyDone", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		c.transport.UnwatchContext()
		c.handleWriteError(err)
		return &pgwireError{msg: "failed to write CopyDone", err: normalizeTimeoutError(ctx, err)}
	}

	err := c.drainToReadyForQuery()
	c.transport.UnwatchContext()
	if err != nil {
		c.handleWriteError(err)
		return err
	}
	c.unlock()
	return nil
}
