package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// ParameterDescription reports the inferred Oid of each placeholder in
// a parsed statement, in response to Describe('S', name).
type ParameterDescription struct {
	ParameterOIDs []uint32
}

func (*ParameterDescription) Backend() {}

func (dst *ParameterDescription) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "ParameterDescription"}
	}
	n := int(binary.BigEndian.Uint16(src))
	rp := 2
	if len(src[rp:]) != n*4 {
		return &invalidMessageFormatErr{messageType: "ParameterDescription"}
	}
	oids := make([]uint32, n)
	for i := 0; i < n; i++ {
		oids[i] = binary.BigEndian.Uint32(src[rp:])
		rp += 4
	}
	dst.ParameterOIDs = oids
	return nil
}

func (src *ParameterDescription) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 't')
	dst = pgio.AppendUint16(dst, uint16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}
	return finishMessage(dst, sp)
}
