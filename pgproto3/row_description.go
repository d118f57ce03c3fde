package pgproto3

import (
	"bytes"
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// FieldDescription describes one column of a RowDescription.
type FieldDescription struct {
	Name                 []byte
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription enumerates the columns of an upcoming series of
// DataRow messages.
type RowDescription struct {
	Fields []FieldDescription
}

func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "RowDescription"}
	}
	fieldCount := int(binary.BigEndian.Uint16(src))
	rp := 2

	fields := make([]FieldDescription, fieldCount)
	for i := 0; i < fieldCount; i++ {
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		fields[i].Name = src[rp : rp+idx]
		rp += idx + 1

		if len(src[rp:]) < 18 {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		fields[i].TableOID = binary.BigEndian.Uint32(src[rp:])
		rp += 4
		fields[i].TableAttributeNumber = binary.BigEndian.Uint16(src[rp:])
		rp += 2
		fields[i].DataTypeOID = binary.BigEndian.Uint32(src[rp:])
		rp += 4
		fields[i].DataTypeSize = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
		fields[i].TypeModifier = int32(binary.BigEndian.Uint32(src[rp:]))
		rp += 4
		fields[i].Format = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
	}
	dst.Fields = fields

	return nil
}

func (src *RowDescription) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'T')
	dst = pgio.AppendUint16(dst, uint16(len(src.Fields)))

	for _, fd := range src.Fields {
		dst = append(dst, fd.Name...)
		dst = append(dst, 0)
		dst = pgio.AppendUint32(dst, fd.TableOID)
		dst = pgio.AppendUint16(dst, fd.TableAttributeNumber)
		dst = pgio.AppendUint32(dst, fd.DataTypeOID)
		dst = pgio.AppendInt16(dst, fd.DataTypeSize)
		dst = pgio.AppendInt32(dst, fd.TypeModifier)
		dst = pgio.AppendInt16(dst, fd.Format)
	}

	return finishMessage(dst, sp)
}
