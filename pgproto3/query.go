package pgproto3

import "bytes"

// Query requests execution of sql via the simple query protocol. sql may
// contain multiple ';'-separated statements, all run in one implicit
// transaction unless the statements themselves manage transactions.
type Query struct {
	String string
}

func (*Query) Frontend() {}

func (dst *Query) Decode(src []byte) error {
	idx := bytes.IndexByte(src, 0)
	if idx != len(src)-1 {
		return &invalidMessageFormatErr{messageType: "Query"}
	}
	dst.String = string(src[:idx])
	return nil
}

func (src *Query) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'Q')
	dst = append(dst, src.String...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
