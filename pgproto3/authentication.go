package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// Authentication subtype codes, the uint32 that follows the 'R' tag and
// determines how to interpret the remainder of the message.
const (
	AuthTypeOk                = 0
	AuthTypeKerberosV5        = 2
	AuthTypeCleartextPassword = 3
	AuthTypeMD5Password       = 5
	AuthTypeSCMCredential     = 6
	AuthTypeGSS               = 7
	AuthTypeGSSContinue       = 8
	AuthTypeSSPI              = 9
	AuthTypeSASL              = 10
	AuthTypeSASLContinue      = 11
	AuthTypeSASLFinal         = 12
)

// Authentication is the single backend message family (tag 'R') covering
// every step of every supported authentication method. Only the fields
// relevant to Type are populated.
type Authentication struct {
	Type uint32

	// AuthTypeMD5Password
	Salt [4]byte

	// AuthTypeGSSContinue
	GSSAuthData []byte

	// AuthTypeSASL: the server-offered mechanism names, in preference order.
	SASLAuthMechanisms []string

	// AuthTypeSASLContinue / AuthTypeSASLFinal
	SASLData []byte
}

func (*Authentication) Backend()                 {}
func (*Authentication) AuthenticationResponse()  {}

func (dst *Authentication) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "Authentication"}
	}
	*dst = Authentication{Type: binary.BigEndian.Uint32(src)}
	rest := src[4:]

	switch dst.Type {
	case AuthTypeOk, AuthTypeKerberosV5, AuthTypeCleartextPassword, AuthTypeSCMCredential, AuthTypeGSS, AuthTypeSSPI:
		// no additional payload
	case AuthTypeMD5Password:
		if len(rest) != 4 {
			return &invalidMessageFormatErr{messageType: "AuthenticationMD5Password"}
		}
		copy(dst.Salt[:], rest)
	case AuthTypeGSSContinue:
		dst.GSSAuthData = rest
	case AuthTypeSASL:
		for len(rest) > 0 {
			idx := 0
			for idx < len(rest) && rest[idx] != 0 {
				idx++
			}
			if idx == 0 {
				break
			}
			dst.SASLAuthMechanisms = append(dst.SASLAuthMechanisms, string(rest[:idx]))
			rest = rest[idx+1:]
		}
	case AuthTypeSASLContinue, AuthTypeSASLFinal:
		dst.SASLData = rest
	default:
		return &invalidMessageFormatErr{messageType: "Authentication", details: "unknown auth type"}
	}

	return nil
}

func (src *Authentication) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'R')
	dst = pgio.AppendUint32(dst, src.Type)

	switch src.Type {
	case AuthTypeMD5Password:
		dst = append(dst, src.Salt[:]...)
	case AuthTypeGSSContinue:
		dst = append(dst, src.GSSAuthData...)
	case AuthTypeSASL:
		for _, m := range src.SASLAuthMechanisms {
			dst = append(dst, m...)
			dst = append(dst, 0)
		}
		dst = append(dst, 0)
	case AuthTypeSASLContinue, AuthTypeSASLFinal:
		dst = append(dst, src.SASLData...)
	}

	return finishMessage(dst, sp)
}
