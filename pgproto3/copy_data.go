package pgproto3

// CopyData carries a chunk of COPY data in either direction. It has no
// framing beyond the ordinary tag/length envelope.
type CopyData struct {
	Data []byte
}

func (*CopyData) Frontend() {}
func (*CopyData) Backend()  {}

func (dst *CopyData) Decode(src []byte) error {
	dst.Data = src
	return nil
}

func (src *CopyData) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'd')
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}

// CopyDone signals the end of a COPY data stream, sendable by either side.
type CopyDone struct{}

func (*CopyDone) Frontend() {}
func (*CopyDone) Backend()  {}

func (dst *CopyDone) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "CopyDone", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *CopyDone) Encode(dst []byte) ([]byte, error) {
	return append(dst, 'c', 0, 0, 0, 4), nil
}
