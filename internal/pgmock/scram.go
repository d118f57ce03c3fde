package pgmock

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/oxleaf/pgwire/pgproto3"
	"golang.org/x/crypto/pbkdf2"
)

// scramServerStep runs a genuine SCRAM-SHA-256 server exchange against
// password. Unlike the rest of this package's literal SendMessage
// scripts, the nonce, salt, and signatures are bound to whatever the
// client actually sent, so the exchange can't be scripted as fixed
// bytes ahead of time.
type scramServerStep struct {
	password string
}

// SCRAMAuthStep returns a Step that drives a SCRAM-SHA-256 exchange to
// completion against password, for scripting AcceptSCRAMConnRequestSteps.
func SCRAMAuthStep(password string) Step {
	return &scramServerStep{password: password}
}

func (s *scramServerStep) Step(backend *pgproto3.Backend) error {
	msg, err := backend.Receive()
	if err != nil {
		return err
	}
	initial, ok := msg.(*pgproto3.SASLInitialResponse)
	if !ok {
		return fmt.Errorf("scram: want SASLInitialResponse, got %#v", msg)
	}

	clientFirst := string(initial.Data)
	idx := strings.Index(clientFirst, "n=")
	if idx < 0 {
		return fmt.Errorf("scram: malformed client-first-message %q", clientFirst)
	}
	clientFirstBare := clientFirst[idx:]
	rIdx := strings.Index(clientFirstBare, "r=")
	if rIdx < 0 {
		return fmt.Errorf("scram: client-first-message missing nonce")
	}
	clientNonce := clientFirstBare[rIdx+2:]

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	serverNonceBytes := make([]byte, 18)
	if _, err := rand.Read(serverNonceBytes); err != nil {
		return err
	}
	const iterations = 4096
	serverFirst := fmt.Sprintf("r=%s%s,s=%s,i=%d",
		clientNonce, base64.StdEncoding.EncodeToString(serverNonceBytes),
		base64.StdEncoding.EncodeToString(salt), iterations)

	if err := backend.Send(&pgproto3.Authentication{Type: pgproto3.AuthTypeSASLContinue, SASLData: []byte(serverFirst)}); err != nil {
		return err
	}
	if err := backend.Flush(); err != nil {
		return err
	}

	msg, err = backend.Receive()
	if err != nil {
		return err
	}
	resp, ok := msg.(*pgproto3.SASLResponse)
	if !ok {
		return fmt.Errorf("scram: want SASLResponse, got %#v", msg)
	}
	clientFinal := string(resp.Data)

	cutIdx := strings.LastIndex(clientFinal, ",p=")
	if cutIdx < 0 {
		return fmt.Errorf("scram: client-final-message missing proof")
	}
	proofB64 := clientFinal[cutIdx+3:]
	clientFinalWithoutProof := clientFinal[:cutIdx]

	saltedPassword := pbkdf2.Key([]byte(s.password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	authMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey[:], []byte(authMessage))

	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil || len(proof) != len(clientKey) {
		return s.sendAuthFailure(backend)
	}
	recoveredKey := make([]byte, len(proof))
	for i := range proof {
		recoveredKey[i] = proof[i] ^ clientSignature[i]
	}
	recoveredStoredKey := sha256.Sum256(recoveredKey)
	if !hmac.Equal(recoveredStoredKey[:], storedKey[:]) {
		return s.sendAuthFailure(backend)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	serverFinal := "v=" + base64.StdEncoding.EncodeToString(serverSignature)

	if err := backend.Send(&pgproto3.Authentication{Type: pgproto3.AuthTypeSASLFinal, SASLData: []byte(serverFinal)}); err != nil {
		return err
	}
	if err := backend.Flush(); err != nil {
		return err
	}

	if err := backend.Send(&pgproto3.Authentication{Type: pgproto3.AuthTypeOk}); err != nil {
		return err
	}
	return backend.Flush()
}

func (s *scramServerStep) sendAuthFailure(backend *pgproto3.Backend) error {
	if err := backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28P01", Message: "password authentication failed"}); err != nil {
		return err
	}
	return backend.Flush()
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// AcceptSCRAMConnRequestSteps scripts a SCRAM-SHA-256 handshake: accept
// any startup message, offer SCRAM-SHA-256 only, run the exchange
// against password, then proceed to ReadyForQuery.
func AcceptSCRAMConnRequestSteps(password string) []Step {
	return []Step{
		ExpectAnyStartupMessage(),
		SendMessage(&pgproto3.Authentication{Type: pgproto3.AuthTypeSASL, SASLAuthMechanisms: []string{"SCRAM-SHA-256"}}),
		SCRAMAuthStep(password),
		SendMessage(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 1}),
		SendMessage(&pgproto3.ReadyForQuery{TxStatus: pgproto3.TxStatusIdle}),
	}
}
