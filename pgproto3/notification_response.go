package pgproto3

import (
	"bytes"
	"encoding/binary"
)

// NotificationResponse delivers an asynchronous NOTIFY payload.
type NotificationResponse struct {
	PID     uint32
	Channel string
	Payload string
}

func (*NotificationResponse) Backend() {}

func (dst *NotificationResponse) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	dst.PID = binary.BigEndian.Uint32(src)
	rest := src[4:]

	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	dst.Channel = string(rest[:i])
	rest = rest[i+1:]

	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	dst.Payload = string(rest[:j])

	return nil
}

func (src *NotificationResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'A')
	dst = append(dst, byte(src.PID>>24), byte(src.PID>>16), byte(src.PID>>8), byte(src.PID))
	dst = append(dst, src.Channel...)
	dst = append(dst, 0)
	dst = append(dst, src.Payload...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
