package pgproto3

// Close releases a named (or unnamed) prepared statement or portal.
type Close struct {
	ObjectType byte // 'S' for prepared statement, 'P' for portal
	Name       string
}

func (*Close) Frontend() {}

func (dst *Close) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "Close"}
	}
	dst.ObjectType = src[0]
	if src[len(src)-1] != 0 {
		return &invalidMessageFormatErr{messageType: "Close"}
	}
	dst.Name = string(src[1 : len(src)-1])
	return nil
}

func (src *Close) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'C')
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
