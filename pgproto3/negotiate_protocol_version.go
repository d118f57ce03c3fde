package pgproto3

import (
	"encoding/binary"

	"github.com/oxleaf/pgwire/internal/pgio"
)

// NegotiateProtocolVersion tells the frontend the server doesn't support
// the requested minor protocol version, or doesn't recognize one or
// more startup parameters.
type NegotiateProtocolVersion struct {
	MinorProtocolVersion uint32
	UnrecognizedOptions  []string
}

func (*NegotiateProtocolVersion) Backend() {}

func (dst *NegotiateProtocolVersion) Decode(src []byte) error {
	if len(src) < 8 {
		return &invalidMessageFormatErr{messageType: "NegotiateProtocolVersion"}
	}
	dst.MinorProtocolVersion = binary.BigEndian.Uint32(src)
	n := int(binary.BigEndian.Uint32(src[4:]))
	rp := 8

	opts := make([]string, n)
	for i := 0; i < n; i++ {
		idx := 0
		for rp+idx < len(src) && src[rp+idx] != 0 {
			idx++
		}
		if rp+idx >= len(src) {
			return &invalidMessageFormatErr{messageType: "NegotiateProtocolVersion"}
		}
		opts[i] = string(src[rp : rp+idx])
		rp += idx + 1
	}
	dst.UnrecognizedOptions = opts

	return nil
}

func (src *NegotiateProtocolVersion) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'v')
	dst = pgio.AppendUint32(dst, src.MinorProtocolVersion)
	dst = pgio.AppendUint32(dst, uint32(len(src.UnrecognizedOptions)))
	for _, o := range src.UnrecognizedOptions {
		dst = append(dst, o...)
		dst = append(dst, 0)
	}
	return finishMessage(dst, sp)
}
