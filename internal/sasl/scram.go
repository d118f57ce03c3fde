// Package sasl implements the SCRAM-SHA-256 and SCRAM-SHA-256-PLUS
// client side of RFC 5802, the SASL mechanisms a server offers in its
// AuthenticationSASL message.
package sasl

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	MechanismSCRAMSHA256     = "SCRAM-SHA-256"
	MechanismSCRAMSHA256Plus = "SCRAM-SHA-256-PLUS"
)

// ChannelBinding carries the TLS channel binding data a SCRAM-SHA-256-PLUS
// conversation binds its signature to, e.g. "tls-server-end-point" and
// the peer certificate's hash as required by RFC 5929.
type ChannelBinding struct {
	Name string
	Data []byte
}

type clientStep int

const (
	stepInitial clientStep = iota
	stepAwaitingServerFirst
	stepAwaitingServerFinal
	stepDone
)

// ClientConversation drives one SCRAM authentication exchange. It is
// single-use: create a new one per authentication attempt.
type ClientConversation struct {
	mechanism string
	password  string
	binding   *ChannelBinding

	step        clientStep
	clientNonce string
	gs2Header   string

	saltedPassword []byte
	authMessage    string
}

// NewClientConversation starts a conversation for mechanism, which must
// be one of MechanismSCRAMSHA256 or MechanismSCRAMSHA256Plus. binding is
// required (and used) only for the PLUS variant.
func NewClientConversation(mechanism, password string, binding *ChannelBinding) (*ClientConversation, error) {
	if mechanism != MechanismSCRAMSHA256 && mechanism != MechanismSCRAMSHA256Plus {
		return nil, fmt.Errorf("sasl: unsupported mechanism %q", mechanism)
	}
	if mechanism == MechanismSCRAMSHA256Plus && binding == nil {
		return nil, errors.New("sasl: SCRAM-SHA-256-PLUS requires channel binding data")
	}

	nonce := make([]byte, 18)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &ClientConversation{
		mechanism:   mechanism,
		password:    saslPrep(password),
		binding:     binding,
		clientNonce: base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Mechanism returns the mechanism name to send in
// SASLInitialResponse.AuthMechanism.
func (c *ClientConversation) Mechanism() string { return c.mechanism }

// gs2HeaderForClient returns the gs2-header as it appears in the
// client-first-message: "p=<name>,," when the mechanism is
// SCRAM-SHA-256-PLUS and the client is actually binding, otherwise
// "n,,". The "y,," form is never sent.
func (c *ClientConversation) gs2HeaderForClient() string {
	if c.mechanism == MechanismSCRAMSHA256Plus {
		return "p=" + c.binding.Name + ",,"
	}
	return "n,,"
}

// InitialResponse returns the client-first-message to send as
// SASLInitialResponse.Data.
func (c *ClientConversation) InitialResponse() []byte {
	c.gs2Header = c.gs2HeaderForClient()
	bare := "n=,r=" + c.clientNonce
	c.authMessage = bare
	return []byte(c.gs2Header + bare)
}

// Continue consumes the server-first-message (an AuthenticationSASLContinue
// payload) and returns the client-final-message to send as
// SASLResponse.Data.
func (c *ClientConversation) Continue(serverFirstMessage []byte) ([]byte, error) {
	if c.step != stepInitial {
		return nil, errors.New("sasl: Continue called out of order")
	}
	c.step = stepAwaitingServerFirst

	attrs, err := parseAttrs(string(serverFirstMessage))
	if err != nil {
		return nil, err
	}

	serverNonce, ok := attrs["r"]
	if !ok || !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, errors.New("sasl: server nonce does not extend client nonce")
	}

	saltStr, ok := attrs["s"]
	if !ok {
		return nil, errors.New("sasl: server-first-message missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltStr)
	if err != nil {
		return nil, fmt.Errorf("sasl: invalid salt: %w", err)
	}

	iterStr, ok := attrs["i"]
	if !ok {
		return nil, errors.New("sasl: server-first-message missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, errors.New("sasl: invalid iteration count")
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	channelBindData := []byte(c.gs2Header)
	if c.mechanism == MechanismSCRAMSHA256Plus {
		channelBindData = append(channelBindData, c.binding.Data...)
	}
	cbindInput := "c=" + base64.StdEncoding.EncodeToString(channelBindData) + ",r=" + serverNonce

	c.authMessage = c.authMessage + "," + string(serverFirstMessage) + "," + cbindInput

	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(c.authMessage))

	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	finalMessage := cbindInput + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	c.step = stepAwaitingServerFinal

	return []byte(finalMessage), nil
}

// Final verifies the server-final-message (an AuthenticationSASLFinal
// payload) against the server signature the client independently
// derived, confirming the server also knows the password.
func (c *ClientConversation) Final(serverFinalMessage []byte) error {
	if c.step != stepAwaitingServerFinal {
		return errors.New("sasl: Final called out of order")
	}

	attrs, err := parseAttrs(string(serverFinalMessage))
	if err != nil {
		return err
	}

	if errMsg, ok := attrs["e"]; ok {
		return fmt.Errorf("sasl: server reported error: %s", errMsg)
	}

	vStr, ok := attrs["v"]
	if !ok {
		return errors.New("sasl: server-final-message missing verifier")
	}
	serverSignatureFromServer, err := base64.StdEncoding.DecodeString(vStr)
	if err != nil {
		return fmt.Errorf("sasl: invalid server signature: %w", err)
	}

	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	expected := hmacSHA256(serverKey, []byte(c.authMessage))

	if subtle.ConstantTimeCompare(expected, serverSignatureFromServer) != 1 {
		return errors.New("sasl: server signature mismatch")
	}

	c.step = stepDone
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func parseAttrs(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		eq := bytes.IndexByte([]byte(part), '=')
		if eq < 0 {
			return nil, fmt.Errorf("sasl: malformed attribute %q", part)
		}
		attrs[part[:eq]] = part[eq+1:]
	}
	return attrs, nil
}
