package pgproto3

// CommandComplete reports the tag of a successfully completed command,
// e.g. "UPDATE 3" or "SELECT 12".
type CommandComplete struct {
	CommandTag []byte
}

func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(src []byte) error {
	if len(src) == 0 || src[len(src)-1] != 0 {
		return &invalidMessageFormatErr{messageType: "CommandComplete"}
	}
	dst.CommandTag = src[:len(src)-1]
	return nil
}

func (src *CommandComplete) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'C')
	dst = append(dst, src.CommandTag...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}
