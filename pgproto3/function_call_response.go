package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// FunctionCallResponse carries the single return value of a FunctionCall.
type FunctionCallResponse struct {
	Result []byte
}

func (*FunctionCallResponse) Backend() {}

func (dst *FunctionCallResponse) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "FunctionCallResponse"}
	}
	size := int(int32(binary.BigEndian.Uint32(src)))
	rp := 4
	if size == -1 {
		dst.Result = nil
		return nil
	}
	if len(src[rp:]) != size {
		return &invalidMessageFormatErr{messageType: "FunctionCallResponse"}
	}
	dst.Result = src[rp : rp+size]
	return nil
}

func (src *FunctionCallResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'V')
	if src.Result == nil {
		dst = pgio.AppendInt32(dst, -1)
	} else {
		dst = pgio.AppendInt32(dst, int32(len(src.Result)))
		dst = append(dst, src.Result...)
	}
	return finishMessage(dst, sp)
}
