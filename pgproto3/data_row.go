package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// DataRow carries one row of results. Values are returned as raw slices
// into the Frontend's read buffer and are only valid until the next
// Receive call.
type DataRow struct {
	Values [][]byte
}

func (*DataRow) Backend() {}

func (dst *DataRow) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "DataRow"}
	}
	n := int(binary.BigEndian.Uint16(src))
	rp := 2

	if cap(dst.Values) < n {
		dst.Values = make([][]byte, n)
	} else {
		dst.Values = dst.Values[:n]
	}

	for i := 0; i < n; i++ {
		if len(src[rp:]) < 4 {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}
		size := int(int32(binary.BigEndian.Uint32(src[rp:])))
		rp += 4
		if size == -1 {
			dst.Values[i] = nil
			continue
		}
		if len(src[rp:]) < size {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}
		dst.Values[i] = src[rp : rp+size]
		rp += size
	}

	return nil
}

func (src *DataRow) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'D')
	dst = pgio.AppendUint16(dst, uint16(len(src.Values)))
	for _, v := range src.Values {
		if v == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}
		dst = pgio.AppendInt32(dst, int32(len(v)))
		dst = append(dst, v...)
	}
	return finishMessage(dst, sp)
}
