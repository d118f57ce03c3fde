package pgproto3

import (
	"encoding/binary"
	"errors"

	"github.com/oxleaf/pgwire/internal/pgio"
)

const cancelRequestCode = 80877102

// CancelRequest is sent over a fresh connection, never the one being
// canceled, to ask the server to interrupt the query currently running
// on the connection identified by ProcessID/SecretKey.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

func (*CancelRequest) Frontend() {}

func (dst *CancelRequest) Decode(src []byte) error {
	if len(src) != 12 {
		return errors.New("cancel request: bad length")
	}
	if binary.BigEndian.Uint32(src) != cancelRequestCode {
		return errors.New("bad cancel request code")
	}
	dst.ProcessID = binary.BigEndian.Uint32(src[4:])
	dst.SecretKey = binary.BigEndian.Uint32(src[8:])
	return nil
}

func (src *CancelRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 16)
	dst = pgio.AppendInt32(dst, cancelRequestCode)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst, nil
}
