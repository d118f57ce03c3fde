package pgproto3

// PortalSuspended is sent in place of CommandComplete when Execute's
// row limit is reached before the portal is exhausted.
type PortalSuspended struct{}

func (*PortalSuspended) Backend() {}

func (dst *PortalSuspended) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "PortalSuspended", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *PortalSuspended) Encode(dst []byte) ([]byte, error) {
	return append(dst, 's', 0, 0, 0, 4), nil
}
