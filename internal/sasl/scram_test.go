package sasl_test

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/oxleaf/pgwire/internal/sasl"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

// fakeServer simulates just enough of a SCRAM-SHA-256 server to drive
// ClientConversation through a full exchange without a network.
type fakeServer struct {
	password   string
	salt       []byte
	iterations int
	nonce      string

	clientFirstBare string
	serverFirst     string
}

func newFakeServer(password string) *fakeServer {
	salt := make([]byte, 16)
	rand.Read(salt)
	nonceBytes := make([]byte, 18)
	rand.Read(nonceBytes)
	return &fakeServer{
		password:   password,
		salt:       salt,
		iterations: 4096,
		nonce:      base64.StdEncoding.EncodeToString(nonceBytes),
	}
}

func (s *fakeServer) firstMessage(clientFirst string) string {
	idx := strings.Index(clientFirst, "n=")
	s.clientFirstBare = clientFirst[idx:]
	rIdx := strings.Index(s.clientFirstBare, "r=")
	clientNonce := s.clientFirstBare[rIdx+2:]
	combinedNonce := clientNonce + s.nonce
	s.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, base64.StdEncoding.EncodeToString(s.salt), s.iterations)
	return s.serverFirst
}

func (s *fakeServer) finalMessage(clientFinal string) (string, bool) {
	parts := strings.Split(clientFinal, ",")
	var cbindInput, proofB64 string
	for _, p := range parts {
		if strings.HasPrefix(p, "c=") {
			cbindInput = p
		}
		if strings.HasPrefix(p, "p=") {
			proofB64 = p[2:]
		}
	}
	_ = cbindInput

	saltedPassword := pbkdf2.Key([]byte(s.password), s.salt, s.iterations, sha256.Size, sha256.New)
	clientKey := hmacSum(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)

	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalWithoutProof(clientFinal)
	clientSignature := hmacSum(storedKey[:], authMessage)

	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil || len(proof) != len(clientKey) {
		return "", false
	}
	recoveredKey := make([]byte, len(proof))
	for i := range proof {
		recoveredKey[i] = proof[i] ^ clientSignature[i]
	}
	recoveredStoredKey := sha256.Sum256(recoveredKey)
	if !hmac.Equal(recoveredStoredKey[:], storedKey[:]) {
		return "", false
	}

	serverKey := hmacSum(saltedPassword, "Server Key")
	serverSignature := hmacSum(serverKey, authMessage)
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), true
}

func clientFinalWithoutProof(clientFinal string) string {
	idx := strings.LastIndex(clientFinal, ",p=")
	return clientFinal[:idx]
}

func hmacSum(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func TestSCRAMSHA256FullExchange(t *testing.T) {
	server := newFakeServer("s3kr1t")

	conv, err := sasl.NewClientConversation(sasl.MechanismSCRAMSHA256, "s3kr1t", nil)
	require.NoError(t, err)

	clientFirst := conv.InitialResponse()
	serverFirst := server.firstMessage(string(clientFirst))

	clientFinal, err := conv.Continue([]byte(serverFirst))
	require.NoError(t, err)

	serverFinal, ok := server.finalMessage(string(clientFinal))
	require.True(t, ok, "server rejected client proof")

	require.NoError(t, conv.Final([]byte(serverFinal)))
}

func TestSCRAMSHA256WrongPasswordFailsProof(t *testing.T) {
	server := newFakeServer("correct-horse")

	conv, err := sasl.NewClientConversation(sasl.MechanismSCRAMSHA256, "wrong-password", nil)
	require.NoError(t, err)

	clientFirst := conv.InitialResponse()
	serverFirst := server.firstMessage(string(clientFirst))

	clientFinal, err := conv.Continue([]byte(serverFirst))
	require.NoError(t, err)

	_, ok := server.finalMessage(string(clientFinal))
	require.False(t, ok)
}

func TestSCRAMSHA256PlusRequiresChannelBinding(t *testing.T) {
	_, err := sasl.NewClientConversation(sasl.MechanismSCRAMSHA256Plus, "pw", nil)
	require.Error(t, err)

	_, err = sasl.NewClientConversation(sasl.MechanismSCRAMSHA256Plus, "pw", &sasl.ChannelBinding{
		Name: "tls-server-end-point",
		Data: []byte("cert-hash"),
	})
	require.NoError(t, err)
}
