package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// SASLInitialResponse begins a SASL authentication exchange, naming the
// chosen mechanism and carrying its first client message.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

func (*SASLInitialResponse) Frontend() {}

func (dst *SASLInitialResponse) Decode(src []byte) error {
	idx := 0
	for idx < len(src) && src[idx] != 0 {
		idx++
	}
	if idx >= len(src) {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dst.AuthMechanism = string(src[:idx])
	rp := idx + 1

	if len(src[rp:]) < 4 {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dataLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
	rp += 4

	if dataLen == -1 {
		dst.Data = nil
		return nil
	}
	if len(src[rp:]) < dataLen {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dst.Data = src[rp : rp+dataLen]

	return nil
}

func (src *SASLInitialResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'p')
	dst = append(dst, src.AuthMechanism...)
	dst = append(dst, 0)
	if src.Data == nil {
		dst = pgio.AppendInt32(dst, -1)
	} else {
		dst = pgio.AppendInt32(dst, int32(len(src.Data)))
		dst = append(dst, src.Data...)
	}
	return finishMessage(dst, sp)
}
