package pgproto3

// Sync closes out a batch of extended-query messages, eliciting a
// ReadyForQuery and marking the error-recovery boundary: the server
// discards any messages it might otherwise have processed after an
// error until the matching Sync.
type Sync struct{}

func (*Sync) Frontend() {}

func (dst *Sync) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Sync", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *Sync) Encode(dst []byte) ([]byte, error) {
	return append(dst, 'S', 0, 0, 0, 4), nil
}
