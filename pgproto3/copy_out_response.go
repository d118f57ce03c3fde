package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// CopyOutResponse begins a COPY TO STDOUT cycle.
type CopyOutResponse struct {
	OverallFormat     byte
	ColumnFormatCodes []uint16
}

func (*CopyOutResponse) Backend() {}

func (dst *CopyOutResponse) Decode(src []byte) error {
	if len(src) < 3 {
		return &invalidMessageFormatErr{messageType: "CopyOutResponse"}
	}
	dst.OverallFormat = src[0]
	n := int(binary.BigEndian.Uint16(src[1:]))
	rp := 3
	if len(src[rp:]) != n*2 {
		return &invalidMessageFormatErr{messageType: "CopyOutResponse"}
	}
	codes := make([]uint16, n)
	for i := 0; i < n; i++ {
		codes[i] = binary.BigEndian.Uint16(src[rp:])
		rp += 2
	}
	dst.ColumnFormatCodes = codes
	return nil
}

func (src *CopyOutResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'H')
	dst = append(dst, src.OverallFormat)
	dst = pgio.AppendUint16(dst, uint16(len(src.ColumnFormatCodes)))
	for _, c := range src.ColumnFormatCodes {
		dst = pgio.AppendUint16(dst, c)
	}
	return finishMessage(dst, sp)
}
