package pgproto3

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// ProtocolVersionNumber is protocol version 3.0, the minimum version this
// engine supports.
const ProtocolVersionNumber = 196608 // 3<<16 | 0

// StartupMessage is the first message sent by the frontend, unless an
// SSLRequest or GSSENCRequest precedes it. It carries no tag byte.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

func (*StartupMessage) Frontend() {}

func (dst *StartupMessage) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageLenErr{messageType: "StartupMessage", expectedLen: 4, actualLen: len(src)}
	}

	dst.ProtocolVersion = binary.BigEndian.Uint32(src)
	dst.Parameters = make(map[string]string)

	rp := 4
	for rp < len(src) {
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		if idx == 0 {
			rp++
			break
		}
		key := string(src[rp : rp+idx])
		rp += idx + 1

		idx = bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		value := string(src[rp : rp+idx])
		rp += idx + 1

		dst.Parameters[key] = value
	}

	return nil
}

func (src *StartupMessage) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginUntaggedMessage(dst)
	dst = pgio.AppendUint32(dst, src.ProtocolVersion)

	keys := make([]string, 0, len(src.Parameters))
	for k := range src.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		dst = append(dst, k...)
		dst = append(dst, 0)
		dst = append(dst, src.Parameters[k]...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)

	return finishMessage(dst, sp)
}
