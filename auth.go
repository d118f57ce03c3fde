package pgwire

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/oxleaf/pgwire/internal/sasl"
	"github.com/oxleaf/pgwire/pgproto3"
)

// handleAuth dispatches on an Authentication message's Type, running
// whatever password or SASL exchange it requires. Returning nil means
// the step succeeded and the caller should keep reading startup
// messages; AuthTypeOk is a no-op that falls through the same way.
func (c *Conn) handleAuth(ctx context.Context, msg *pgproto3.Authentication, host string) error {
	switch msg.Type {
	case pgproto3.AuthTypeOk:
		return nil

	case pgproto3.AuthTypeCleartextPassword:
		return c.sendPassword(ctx, c.cfg.Password)

	case pgproto3.AuthTypeMD5Password:
		return c.sendPassword(ctx, hashMD5Password(c.cfg.User, c.cfg.Password, msg.Salt))

	case pgproto3.AuthTypeSASL:
		return c.authSCRAM(ctx, msg.SASLAuthMechanisms)

	case pgproto3.AuthTypeGSS, pgproto3.AuthTypeSSPI:
		return c.handleGSSAuth(ctx, msg, host)

	case pgproto3.AuthTypeKerberosV5, pgproto3.AuthTypeSCMCredential:
		return fmt.Errorf("unsupported authentication type: %d", msg.Type)

	default:
		return fmt.Errorf("unknown authentication type: %d", msg.Type)
	}
}

func (c *Conn) sendPassword(ctx context.Context, password string) error {
	if err := c.frontend.Send(&pgproto3.PasswordMessage{Password: password}); err != nil {
		return &pgwireError{msg: "failed to write password message", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		return &pgwireError{msg: "failed to write password message", err: normalizeTimeoutError(ctx, err)}
	}
	return nil
}

func hashMD5Password(user, password string, salt [4]byte) string {
	first := md5Hex(password + user)
	return "md5" + md5Hex(first+string(salt[:]))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// authSCRAM runs the SCRAM-SHA-256[-PLUS] exchange to completion,
// preferring the channel-binding variant when the server offers it and
// the transport is TLS.
func (c *Conn) authSCRAM(ctx context.Context, serverMechanisms []string) error {
	mechanism, binding := c.chooseSCRAMMechanism(serverMechanisms)

	conv, err := sasl.NewClientConversation(mechanism, c.cfg.Password, binding)
	if err != nil {
		return &pgwireError{msg: "failed to start SASL conversation", err: err}
	}

	err = c.frontend.Send(&pgproto3.SASLInitialResponse{
		AuthMechanism: conv.Mechanism(),
		Data:          conv.InitialResponse(),
	})
	if err != nil {
		return &pgwireError{msg: "failed to write SASLInitialResponse", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		return &pgwireError{msg: "failed to write SASLInitialResponse", err: normalizeTimeoutError(ctx, err)}
	}

	serverFirst, err := c.receiveAuthContinue(ctx)
	if err != nil {
		return err
	}

	clientFinal, err := conv.Continue(serverFirst)
	if err != nil {
		return &pgwireError{msg: "SASL exchange failed", err: err}
	}

	if err := c.frontend.Send(&pgproto3.SASLResponse{Data: clientFinal}); err != nil {
		return &pgwireError{msg: "failed to write SASLResponse", err: err}
	}
	if err := c.frontend.Flush(); err != nil {
		return &pgwireError{msg: "failed to write SASLResponse", err: normalizeTimeoutError(ctx, err)}
	}

	serverFinal, err := c.receiveAuthFinal(ctx)
	if err != nil {
		return err
	}

	if err := conv.Final(serverFinal); err != nil {
		return &pgwireError{msg: "SASL server verification failed", err: err}
	}

	return nil
}

func (c *Conn) chooseSCRAMMechanism(serverMechanisms []string) (string, *sasl.ChannelBinding) {
	havePlus := false
	for _, m := range serverMechanisms {
		if m == sasl.MechanismSCRAMSHA256Plus {
			havePlus = true
		}
	}

	if havePlus {
		if binding, ok := c.transport.ChannelBinding(); ok {
			return sasl.MechanismSCRAMSHA256Plus, &sasl.ChannelBinding{Name: "tls-server-end-point", Data: binding}
		}
	}
	return sasl.MechanismSCRAMSHA256, nil
}

// receiveAuthContinue reads the single AuthenticationSASLContinue
// message expected after SASLInitialResponse.
func (c *Conn) receiveAuthContinue(ctx context.Context) ([]byte, error) {
	msg, err := c.frontend.Receive()
	if err != nil {
		return nil, &pgwireError{msg: "failed to receive SASL continue", err: normalizeTimeoutError(ctx, err)}
	}
	auth, ok := msg.(*pgproto3.Authentication)
	if !ok || auth.Type != pgproto3.AuthTypeSASLContinue {
		if errMsg, ok := msg.(*pgproto3.ErrorResponse); ok {
			return nil, fieldsToPgError(errMsg)
		}
		return nil, unexpectedMessageErr("AuthenticationSASLContinue", msg)
	}
	return auth.SASLData, nil
}

// receiveAuthFinal reads the single AuthenticationSASLFinal message
// expected after SASLResponse.
func (c *Conn) receiveAuthFinal(ctx context.Context) ([]byte, error) {
	msg, err := c.frontend.Receive()
	if err != nil {
		return nil, &pgwireError{msg: "failed to receive SASL final", err: normalizeTimeoutError(ctx, err)}
	}
	auth, ok := msg.(*pgproto3.Authentication)
	if !ok || auth.Type != pgproto3.AuthTypeSASLFinal {
		if errMsg, ok := msg.(*pgproto3.ErrorResponse); ok {
			return nil, fieldsToPgError(errMsg)
		}
		return nil, unexpectedMessageErr("AuthenticationSASLFinal", msg)
	}
	return auth.SASLData, nil
}
