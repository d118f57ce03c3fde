package pgproto3

import "bytes"

// PasswordMessage carries a cleartext or MD5-hashed password in response
// to an AuthenticationCleartextPassword or AuthenticationMD5Password
// request.
type PasswordMessage struct {
	Password string
}

func (*PasswordMessage) Frontend() {}

func (dst *PasswordMessage) Decode(src []byte) error {
	buf := bytes.NewBuffer(src)
	b, err := buf.ReadBytes(0)
	if err != nil {
		return err
	}
	dst.Password = string(b[:len(b)-1])
	return nil
}

func (src *PasswordMessage) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'p')
	dst = append(dst, src.Password...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
