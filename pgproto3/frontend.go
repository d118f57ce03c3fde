package pgproto3

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frontend is the client side of the PostgreSQL wire protocol. It
// buffers outbound frontend messages until Flush and decodes inbound
// backend messages on demand from Receive.
type Frontend struct {
	cr *chunkReader
	w  io.Writer

	tracer *Tracer

	wbuf []byte

	// Backend message flyweights. Receive reuses these instead of
	// allocating a new message value per call.
	authentication        Authentication
	backendKeyData         BackendKeyData
	bindComplete           BindComplete
	closeComplete          CloseComplete
	commandComplete        CommandComplete
	copyBothResponse       CopyBothResponse
	copyData               CopyData
	copyDone               CopyDone
	copyInResponse         CopyInResponse
	copyOutResponse        CopyOutResponse
	dataRow                DataRow
	emptyQueryResponse     EmptyQueryResponse
	errorResponse          ErrorResponse
	functionCallResponse   FunctionCallResponse
	negotiateProtoVersion  NegotiateProtocolVersion
	noData                 NoData
	noticeResponse         NoticeResponse
	notificationResponse   NotificationResponse
	parameterDescription   ParameterDescription
	parameterStatus        ParameterStatus
	parseComplete          ParseComplete
	portalSuspended        PortalSuspended
	readyForQuery          ReadyForQuery
	rowDescription         RowDescription

	bodyLen    int
	msgType    byte
	partialMsg bool
}

// NewFrontend creates a Frontend that reads from r and writes to w.
func NewFrontend(r io.Reader, w io.Writer) *Frontend {
	return &Frontend{cr: newChunkReader(r, 0), w: w}
}

// Trace begins tracing every message sent and received.
func (f *Frontend) Trace(t *Tracer) { f.tracer = t }

// Untrace stops tracing.
func (f *Frontend) Untrace() { f.tracer = nil }

// Send buffers msg for the next Flush.
func (f *Frontend) Send(msg FrontendMessage) error {
	prevLen := len(f.wbuf)
	var err error
	f.wbuf, err = msg.Encode(f.wbuf)
	if err != nil {
		return err
	}
	if f.tracer != nil {
		f.tracer.traceMessage('F', len(f.wbuf)-prevLen, msg)
	}
	return nil
}

// Flush writes any buffered messages to the underlying writer.
func (f *Frontend) Flush() error {
	if len(f.wbuf) == 0 {
		return nil
	}

	n, err := f.w.Write(f.wbuf)

	const maxRetainedLen = 1 << 16
	if len(f.wbuf) > maxRetainedLen {
		f.wbuf = make([]byte, 0, maxRetainedLen)
	} else {
		f.wbuf = f.wbuf[:0]
	}

	if err != nil {
		return &writeError{err: err, safeToRetry: n == 0}
	}
	return nil
}

func translateEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Receive reads and decodes the next backend message. The returned
// message is only valid until the next call to Receive.
func (f *Frontend) Receive() (BackendMessage, error) {
	if !f.partialMsg {
		header, err := f.cr.Next(5)
		if err != nil {
			return nil, translateEOF(err)
		}

		f.msgType = header[0]
		msgLen := int(binary.BigEndian.Uint32(header[1:]))
		if msgLen < 4 {
			return nil, fmt.Errorf("invalid message length: %d", msgLen)
		}
		f.bodyLen = msgLen - 4
		f.partialMsg = true
	}

	msgBody, err := f.cr.Next(f.bodyLen)
	if err != nil {
		return nil, translateEOF(err)
	}
	f.partialMsg = false

	var msg BackendMessage
	switch f.msgType {
	case '1':
		msg = &f.parseComplete
	case '2':
		msg = &f.bindComplete
	case '3':
		msg = &f.closeComplete
	case 'A':
		msg = &f.notificationResponse
	case 'c':
		msg = &f.copyDone
	case 'C':
		msg = &f.commandComplete
	case 'd':
		msg = &f.copyData
	case 'D':
		msg = &f.dataRow
	case 'E':
		msg = &f.errorResponse
	case 'G':
		msg = &f.copyInResponse
	case 'H':
		msg = &f.copyOutResponse
	case 'I':
		msg = &f.emptyQueryResponse
	case 'K':
		msg = &f.backendKeyData
	case 'n':
		msg = &f.noData
	case 'N':
		msg = &f.noticeResponse
	case 'R':
		msg = &f.authentication
	case 's':
		msg = &f.portalSuspended
	case 'S':
		msg = &f.parameterStatus
	case 't':
		msg = &f.parameterDescription
	case 'T':
		msg = &f.rowDescription
	case 'v':
		msg = &f.negotiateProtoVersion
	case 'V':
		msg = &f.functionCallResponse
	case 'W':
		msg = &f.copyBothResponse
	case 'Z':
		msg = &f.readyForQuery
	default:
		return nil, fmt.Errorf("unknown message type: %c", f.msgType)
	}

	if err := msg.Decode(msgBody); err != nil {
		return nil, err
	}
	if f.tracer != nil {
		f.tracer.traceMessage('B', len(msgBody)+5, msg)
	}
	return msg, nil
}
