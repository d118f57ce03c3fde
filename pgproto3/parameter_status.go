package pgproto3

import "bytes"

// ParameterStatus reports a GUC value the server wants the client to
// track, sent at startup and whenever the value changes.
type ParameterStatus struct {
	Name  string
	Value string
}

func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(src []byte) error {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	rest := src[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	dst.Name = string(src[:i])
	dst.Value = string(rest[:j])
	return nil
}

func (src *ParameterStatus) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'S')
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Value...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
