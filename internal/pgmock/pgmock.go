// Package pgmock scripts a PostgreSQL server for testing, using
// pgproto3.Backend rather than a real socket-facing server.
package pgmock

import (
	"fmt"
	"io"
	"reflect"

	"github.com/oxleaf/pgwire/pgproto3"
)

// Step is one scripted interaction: expect a message, send one, or wait
// for the connection to close.
type Step interface {
	Step(*pgproto3.Backend) error
}

// Script is an ordered sequence of Steps, itself a Step so scripts can
// nest.
type Script struct {
	Steps []Step
}

func (s *Script) Run(backend *pgproto3.Backend) error {
	for i, step := range s.Steps {
		if err := step.Step(backend); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (s *Script) Step(backend *pgproto3.Backend) error { return s.Run(backend) }

type expectMessageStep struct {
	want pgproto3.FrontendMessage
	any  bool
}

func (e *expectMessageStep) Step(backend *pgproto3.Backend) error {
	msg, err := backend.Receive()
	if err != nil {
		return err
	}

	if e.any && reflect.TypeOf(msg) == reflect.TypeOf(e.want) {
		return nil
	}

	if !reflect.DeepEqual(msg, e.want) {
		return fmt.Errorf("msg => %#v, want => %#v", msg, e.want)
	}
	return nil
}

type expectStartupMessageStep struct {
	want pgproto3.FrontendMessage
	any  bool
}

func (e *expectStartupMessageStep) Step(backend *pgproto3.Backend) error {
	msg, err := backend.ReceiveStartupMessage()
	if err != nil {
		return err
	}
	if e.any {
		return nil
	}
	if !reflect.DeepEqual(msg, e.want) {
		return fmt.Errorf("msg => %#v, want => %#v", msg, e.want)
	}
	return nil
}

// ExpectMessage requires the next frontend message to equal want exactly.
func ExpectMessage(want pgproto3.FrontendMessage) Step {
	return expectMessage(want, false)
}

// ExpectAnyMessage requires only that the next frontend message has the
// same concrete type as want.
func ExpectAnyMessage(want pgproto3.FrontendMessage) Step {
	return expectMessage(want, true)
}

func expectMessage(want pgproto3.FrontendMessage, any bool) Step {
	if sm, ok := want.(*pgproto3.StartupMessage); ok {
		return &expectStartupMessageStep{want: sm, any: any}
	}
	return &expectMessageStep{want: want, any: any}
}

// ExpectStartupMessage requires the opening untagged message to equal
// want exactly (StartupMessage, SSLRequest, GSSEncRequest, or
// CancelRequest).
func ExpectStartupMessage(want pgproto3.FrontendMessage) Step {
	return &expectStartupMessageStep{want: want}
}

// ExpectAnyStartupMessage accepts whatever opening message arrives.
func ExpectAnyStartupMessage() Step {
	return &expectStartupMessageStep{any: true}
}

type sendMessageStep struct {
	msg pgproto3.BackendMessage
}

func (e *sendMessageStep) Step(backend *pgproto3.Backend) error {
	if err := backend.Send(e.msg); err != nil {
		return err
	}
	return backend.Flush()
}

// SendMessage sends msg immediately, flushing the backend's write buffer.
func SendMessage(msg pgproto3.BackendMessage) Step {
	return &sendMessageStep{msg: msg}
}

type waitForCloseStep struct{}

func (e *waitForCloseStep) Step(backend *pgproto3.Backend) error {
	for {
		msg, err := backend.Receive()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := msg.(*pgproto3.Terminate); ok {
			return nil
		}
	}
}

// WaitForClose reads and discards frontend messages until Terminate or
// EOF.
func WaitForClose() Step {
	return &waitForCloseStep{}
}

// AcceptUnauthenticatedConnRequestSteps scripts the minimal handshake
// for a server with trust authentication: accept any startup message,
// report success, and go straight to ReadyForQuery.
func AcceptUnauthenticatedConnRequestSteps() []Step {
	return []Step{
		ExpectAnyStartupMessage(),
		SendMessage(&pgproto3.Authentication{Type: pgproto3.AuthTypeOk}),
		SendMessage(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 1}),
		SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),
	}
}

// AcceptPasswordAuthConnRequestSteps scripts a cleartext password
// handshake: accept any startup message, ask for a password, accept
// whatever is sent, then proceed to ReadyForQuery.
func AcceptPasswordAuthConnRequestSteps() []Step {
	return []Step{
		ExpectAnyStartupMessage(),
		SendMessage(&pgproto3.Authentication{Type: pgproto3.AuthTypeCleartextPassword}),
		ExpectAnyMessage(&pgproto3.PasswordMessage{}),
		SendMessage(&pgproto3.Authentication{Type: pgproto3.AuthTypeOk}),
		SendMessage(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 1}),
		SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),
	}
}
