// Package pgproto3 implements the wire encoding and decoding of the
// PostgreSQL frontend/backend protocol, version 3.0.
//
// Every message is framed as a one byte tag followed by a four byte
// big-endian length (the length field includes itself but not the tag),
// followed by the message body. The StartupMessage, SSLRequest,
// GSSENCRequest and CancelRequest messages are the exception: they have
// no leading tag byte.
package pgproto3

import (
	"fmt"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// Message is implemented by every frontend and backend message.
type Message interface {
	// Decode parses src, the message body with the tag and length already
	// consumed, into the receiver. Decode may retain a reference to src.
	Decode(src []byte) error

	// Encode appends the wire representation of the message, including its
	// tag and length prefix, to dst and returns the extended buffer.
	Encode(dst []byte) ([]byte, error)
}

// FrontendMessage is a message sent by the client.
type FrontendMessage interface {
	Message
	Frontend()
}

// BackendMessage is a message sent by the server.
type BackendMessage interface {
	Message
	Backend()
}

// AuthenticationResponseMessage is a BackendMessage that begins or
// continues an authentication exchange (tag 'R').
type AuthenticationResponseMessage interface {
	BackendMessage
	AuthenticationResponse()
}

type invalidMessageLenErr struct {
	messageType string
	expectedLen int
	actualLen   int
}

func (e *invalidMessageLenErr) Error() string {
	return fmt.Sprintf("%s body must have length of %d, but it is %d", e.messageType, e.expectedLen, e.actualLen)
}

type invalidMessageFormatErr struct {
	messageType string
	details     string
}

func (e *invalidMessageFormatErr) Error() string {
	if e.details == "" {
		return fmt.Sprintf("%s body is invalid", e.messageType)
	}
	return fmt.Sprintf("%s body is invalid: %s", e.messageType, e.details)
}

// writeError is returned when a partial message may have reached the
// wire. safeToRetry is true only when the write is known to have failed
// before any bytes left the process.
type writeError struct {
	err         error
	safeToRetry bool
}

func (e *writeError) Error() string {
	return fmt.Sprintf("write failed: %s", e.err.Error())
}

func (e *writeError) SafeToRetry() bool {
	return e.safeToRetry
}

func (e *writeError) Unwrap() error {
	return e.err
}

// beginMessage appends tag and a placeholder length to dst, returning the
// new buffer and the offset of the length field so finishMessage can
// backfill it.
func beginMessage(dst []byte, tag byte) (buf []byte, sp int) {
	dst = append(dst, tag)
	sp = len(dst)
	dst = pgio.AppendInt32(dst, -1)
	return dst, sp
}

// finishMessage backfills the length field at sp with the number of
// bytes written since sp (inclusive of the length field itself).
func finishMessage(dst []byte, sp int) ([]byte, error) {
	pgio.SetInt32(dst[sp:], int32(len(dst)-sp))
	return dst, nil
}

// beginUntaggedMessage appends a placeholder length to dst for messages
// such as StartupMessage that carry no tag byte.
func beginUntaggedMessage(dst []byte) (buf []byte, sp int) {
	sp = len(dst)
	dst = pgio.AppendInt32(dst, -1)
	return dst, sp
}
