package pgproto3

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Backend is the server side of the PostgreSQL wire protocol. It mirrors
// Frontend: buffered Send/Flush for outbound backend messages, flyweight
// decoding for inbound frontend messages. Used by pgmock to script a
// PostgreSQL server for tests; this module has no server of its own.
type Backend struct {
	cr *chunkReader
	w  io.Writer

	wbuf []byte

	bind            Bind
	close           Close
	copyData        CopyData
	copyDone        CopyDone
	copyFail        CopyFail
	describe        Describe
	execute         Execute
	flush           Flush
	functionCall    FunctionCall
	parse           Parse
	passwordMessage PasswordMessage
	query           Query
	saslInitial     SASLInitialResponse
	saslResponse    SASLResponse
	startupMessage  StartupMessage
	sync            Sync
	terminate       Terminate

	bodyLen    int
	msgType    byte
	partialMsg bool
}

// NewBackend creates a Backend that reads from r and writes to w.
func NewBackend(r io.Reader, w io.Writer) *Backend {
	return &Backend{cr: newChunkReader(r, 0), w: w}
}

// Send buffers msg for the next Flush.
func (b *Backend) Send(msg BackendMessage) error {
	var err error
	b.wbuf, err = msg.Encode(b.wbuf)
	return err
}

// Flush writes any buffered messages to the underlying writer.
func (b *Backend) Flush() error {
	if len(b.wbuf) == 0 {
		return nil
	}
	_, err := b.w.Write(b.wbuf)
	b.wbuf = b.wbuf[:0]
	return err
}

// ReceiveStartupMessage reads the untagged message that must open every
// connection: a StartupMessage, SSLRequest, GSSEncRequest, or
// CancelRequest. Unlike every later message it carries no tag byte.
func (b *Backend) ReceiveStartupMessage() (FrontendMessage, error) {
	header, err := b.cr.Next(4)
	if err != nil {
		return nil, err
	}
	msgSize := int(binary.BigEndian.Uint32(header)) - 4
	if msgSize < 0 {
		return nil, fmt.Errorf("invalid startup message length: %d", msgSize+4)
	}

	body, err := b.cr.Next(msgSize)
	if err != nil {
		return nil, err
	}

	if msgSize == 4 || msgSize == 12 {
		var code uint32
		if len(body) >= 4 {
			code = binary.BigEndian.Uint32(body)
		}
		switch code {
		case sslRequestCode:
			return &SSLRequest{}, nil
		case gssEncRequestCode:
			return &GSSEncRequest{}, nil
		case cancelRequestCode:
			cr := &CancelRequest{}
			if err := cr.Decode(body); err != nil {
				return nil, err
			}
			return cr, nil
		}
	}

	if err := b.startupMessage.Decode(body); err != nil {
		return nil, err
	}
	return &b.startupMessage, nil
}

// Receive reads and decodes the next tagged frontend message.
func (b *Backend) Receive() (FrontendMessage, error) {
	if !b.partialMsg {
		header, err := b.cr.Next(5)
		if err != nil {
			return nil, translateEOF(err)
		}
		b.msgType = header[0]
		msgLen := int(binary.BigEndian.Uint32(header[1:]))
		if msgLen < 4 {
			return nil, fmt.Errorf("invalid message length: %d", msgLen)
		}
		b.bodyLen = msgLen - 4
		b.partialMsg = true
	}

	msgBody, err := b.cr.Next(b.bodyLen)
	if err != nil {
		return nil, translateEOF(err)
	}
	b.partialMsg = false

	var msg FrontendMessage
	switch b.msgType {
	case 'B':
		msg = &b.bind
	case 'C':
		msg = &b.close
	case 'd':
		msg = &b.copyData
	case 'c':
		msg = &b.copyDone
	case 'f':
		msg = &b.copyFail
	case 'D':
		msg = &b.describe
	case 'E':
		msg = &b.execute
	case 'H':
		msg = &b.flush
	case 'F':
		msg = &b.functionCall
	case 'P':
		msg = &b.parse
	case 'p':
		// PasswordMessage, SASLInitialResponse, and SASLResponse all use
		// tag 'p'; a real backend disambiguates by which auth step it
		// asked for. This mock-oriented Backend always decodes it as a
		// plain PasswordMessage, which is sufficient for scripting
		// cleartext/MD5 auth; SASL scripts should match on raw bytes.
		msg = &b.passwordMessage
	case 'Q':
		msg = &b.query
	case 'S':
		msg = &b.sync
	case 'X':
		msg = &b.terminate
	default:
		return nil, fmt.Errorf("unknown message type: %c", b.msgType)
	}

	if err := msg.Decode(msgBody); err != nil {
		return nil, err
	}
	return msg, nil
}
