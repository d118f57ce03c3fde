package pgproto3

import (
	"encoding/binary"
	"errors"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// sslRequestCode and gssEncRequestCode are the magic numbers that replace
// a protocol version in a StartupMessage-shaped packet to request a TLS
// or GSS encryption upgrade before startup proper begins.
const (
	sslRequestCode    = 80877103
	gssEncRequestCode = 80877104
)

// SSLRequest is sent in place of a StartupMessage to ask the server
// whether it will accept a TLS-wrapped connection. The server replies
// with a single unframed byte: 'S' or 'N'.
type SSLRequest struct{}

func (*SSLRequest) Frontend() {}

func (dst *SSLRequest) Decode(src []byte) error {
	if len(src) != 4 {
		return &invalidMessageLenErr{messageType: "SSLRequest", expectedLen: 4, actualLen: len(src)}
	}
	if binary.BigEndian.Uint32(src) != sslRequestCode {
		return errors.New("bad ssl request code")
	}
	return nil
}

func (src *SSLRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, sslRequestCode)
	return dst, nil
}

// GSSEncRequest is sent in place of a StartupMessage to ask the server
// whether it will accept GSSAPI-encapsulated encryption before startup.
// The server replies with a single unframed byte: 'G' or 'N'.
type GSSEncRequest struct{}

func (*GSSEncRequest) Frontend() {}

func (dst *GSSEncRequest) Decode(src []byte) error {
	if len(src) != 4 {
		return &invalidMessageLenErr{messageType: "GSSEncRequest", expectedLen: 4, actualLen: len(src)}
	}
	if binary.BigEndian.Uint32(src) != gssEncRequestCode {
		return errors.New("bad gssenc request code")
	}
	return nil
}

func (src *GSSEncRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, gssEncRequestCode)
	return dst, nil
}
