package pgproto3

// SASLResponse carries a subsequent client message of an ongoing SASL
// exchange (unlike SASLInitialResponse it has no mechanism name prefix).
type SASLResponse struct {
	Data []byte
}

func (*SASLResponse) Frontend() {}

func (dst *SASLResponse) Decode(src []byte) error {
	dst.Data = src
	return nil
}

func (src *SASLResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'p')
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}
