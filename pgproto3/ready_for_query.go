package pgproto3

// Transaction status bytes carried by ReadyForQuery, mirroring the
// session states a connection can report.
const (
	TxStatusIdle              = 'I'
	TxStatusInTransaction     = 'T'
	TxStatusInFailedTransaction = 'E'
)

// ReadyForQuery tells the frontend the server is ready for a new query
// cycle and reports the current transaction status.
type ReadyForQuery struct {
	TxStatus byte
}

func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(src []byte) error {
	if len(src) != 1 {
		return &invalidMessageLenErr{messageType: "ReadyForQuery", expectedLen: 1, actualLen: len(src)}
	}
	dst.TxStatus = src[0]
	return nil
}

func (src *ReadyForQuery) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'Z')
	dst = append(dst, src.TxStatus)
	return finishMessage(dst, sp)
}
