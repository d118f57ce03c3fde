package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// FunctionCall invokes a server function directly via the legacy
// fastpath interface, bypassing SQL parsing entirely.
type FunctionCall struct {
	ObjectID        uint32
	ArgFormatCodes  []int16
	Arguments       [][]byte
	ResultFormatCode int16
}

func (*FunctionCall) Frontend() {}

func (dst *FunctionCall) Decode(src []byte) error {
	rp := 0
	if len(src[rp:]) < 4 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	dst.ObjectID = binary.BigEndian.Uint32(src[rp:])
	rp += 4

	if len(src[rp:]) < 2 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	argFormatCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	dst.ArgFormatCodes = make([]int16, argFormatCount)
	for i := 0; i < argFormatCount; i++ {
		if len(src[rp:]) < 2 {
			return &invalidMessageFormatErr{messageType: "FunctionCall"}
		}
		dst.ArgFormatCodes[i] = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
	}

	if len(src[rp:]) < 2 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	argCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	dst.Arguments = make([][]byte, argCount)
	for i := 0; i < argCount; i++ {
		if len(src[rp:]) < 4 {
			return &invalidMessageFormatErr{messageType: "FunctionCall"}
		}
		size := int(int32(binary.BigEndian.Uint32(src[rp:])))
		rp += 4
		if size == -1 {
			continue
		}
		if len(src[rp:]) < size {
			return &invalidMessageFormatErr{messageType: "FunctionCall"}
		}
		dst.Arguments[i] = src[rp : rp+size]
		rp += size
	}

	if len(src[rp:]) < 2 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	dst.ResultFormatCode = int16(binary.BigEndian.Uint16(src[rp:]))

	return nil
}

func (src *FunctionCall) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'F')

	dst = pgio.AppendUint32(dst, src.ObjectID)

	dst = pgio.AppendUint16(dst, uint16(len(src.ArgFormatCodes)))
	for _, fc := range src.ArgFormatCodes {
		dst = pgio.AppendInt16(dst, fc)
	}

	dst = pgio.AppendUint16(dst, uint16(len(src.Arguments)))
	for _, a := range src.Arguments {
		if a == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}
		dst = pgio.AppendInt32(dst, int32(len(a)))
		dst = append(dst, a...)
	}

	dst = pgio.AppendInt16(dst, src.ResultFormatCode)

	return finishMessage(dst, sp)
}
