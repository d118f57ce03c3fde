package pgproto3

// Describe asks the server to return a ParameterDescription and
// RowDescription (or NoData) for a named statement or portal.
type Describe struct {
	ObjectType byte // 'S' for prepared statement, 'P' for portal
	Name       string
}

func (*Describe) Frontend() {}

func (dst *Describe) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "Describe"}
	}
	dst.ObjectType = src[0]
	if src[len(src)-1] != 0 {
		return &invalidMessageFormatErr{messageType: "Describe"}
	}
	dst.Name = string(src[1 : len(src)-1])
	return nil
}

func (src *Describe) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'D')
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
