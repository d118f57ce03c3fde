package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// Execute runs the named portal (empty name = unnamed portal), returning
// at most MaxRows rows. MaxRows of 0 means "to completion".
type Execute struct {
	Portal  string
	MaxRows uint32
}

func (*Execute) Frontend() {}

func (dst *Execute) Decode(src []byte) error {
	idx := -1
	for i, b := range src {
		if b == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &invalidMessageFormatErr{messageType: "Execute"}
	}
	dst.Portal = string(src[:idx])
	rp := idx + 1
	if len(src[rp:]) < 4 {
		return &invalidMessageFormatErr{messageType: "Execute"}
	}
	dst.MaxRows = binary.BigEndian.Uint32(src[rp:])
	return nil
}

func (src *Execute) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'E')
	dst = append(dst, src.Portal...)
	dst = append(dst, 0)
	dst = pgio.AppendUint32(dst, src.MaxRows)
	return finishMessage(dst, sp)
}
