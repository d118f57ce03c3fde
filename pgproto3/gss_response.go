package pgproto3

// GSSResponse carries a token in an ongoing GSSAPI or SSPI
// authentication exchange, sent after an AuthenticationGSS or
// AuthenticationGSSContinue message. It shares the 'p' tag with
// PasswordMessage and SASLResponse; which one the server expects is a
// function of which Authentication message started the exchange.
type GSSResponse struct {
	Data []byte
}

func (*GSSResponse) Frontend() {}

func (dst *GSSResponse) Decode(src []byte) error {
	dst.Data = src
	return nil
}

func (src *GSSResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'p')
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}
