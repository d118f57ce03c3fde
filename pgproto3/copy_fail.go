package pgproto3

// CopyFail aborts a COPY IN started by the frontend, giving the server a
// message to surface as the resulting ErrorResponse.
type CopyFail struct {
	Message string
}

func (*CopyFail) Frontend() {}

func (dst *CopyFail) Decode(src []byte) error {
	if len(src) == 0 || src[len(src)-1] != 0 {
		return &invalidMessageFormatErr{messageType: "CopyFail"}
	}
	dst.Message = string(src[:len(src)-1])
	return nil
}

func (src *CopyFail) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'f')
	dst = append(dst, src.Message...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
