package pgproto3

// NoticeResponse carries a non-fatal server notice. It shares
// ErrorResponse's field layout exactly.
type NoticeResponse ErrorResponse

func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(src []byte) error {
	return decodeErrorFields((*ErrorResponse)(dst), src)
}

func (src *NoticeResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'N')
	dst = encodeErrorFields(dst, (*ErrorResponse)(src))
	return finishMessage(dst, sp)
}
