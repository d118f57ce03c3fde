package pgwire

import (
	"testing"

	"github.com/oxleaf/pgwire/pgproto3"
	"github.com/stretchr/testify/require"
)

func newBinaryFormatConn(cfg *Config) *Conn {
	return &Conn{cfg: cfg, binaryOIDs: newBinaryOIDSet(cfg)}
}

func TestUseBinaryForReceiveDefaultSet(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	require.True(t, c.useBinaryForReceive(OIDInt4))
	require.True(t, c.useBinaryForReceive(OIDBytea))
	require.True(t, c.useBinaryForReceive(OIDUUID))
	require.True(t, c.useBinaryForReceive(OIDNumeric))
	require.False(t, c.useBinaryForReceive(25)) // text Oid is never in the default set
}

func TestUseBinaryForSendExcludesNumeric(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	require.True(t, c.useBinaryForSend(OIDInt4))
	require.False(t, c.useBinaryForSend(OIDNumeric))
	require.False(t, c.useBinaryForSend(OIDNumericArray))
	require.True(t, c.useBinaryForReceive(OIDNumeric), "receive still defaults Numeric to binary even though send doesn't")
}

func TestBinaryTransferDisabledOverridesEverything(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: false})
	require.False(t, c.useBinaryForReceive(OIDInt4))
	require.False(t, c.useBinaryForSend(OIDInt4))
}

func TestBinaryTransferEnableAddsNumericToSend(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true, BinaryTransferEnable: []uint32{OIDNumeric}})
	require.True(t, c.useBinaryForSend(OIDNumeric))
}

func TestBinaryTransferDisableRemovesFromBothSets(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true, BinaryTransferDisable: []uint32{OIDInt4}})
	require.False(t, c.useBinaryForReceive(OIDInt4))
	require.False(t, c.useBinaryForSend(OIDInt4))
}

func TestDefaultResultFormatsFillsFromFieldOIDs(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	fields := []pgproto3.FieldDescription{
		{DataTypeOID: OIDInt4},
		{DataTypeOID: 25}, // text, stays text
	}
	out := c.defaultResultFormats(nil, fields)
	require.Equal(t, []int16{1, 0}, out)
}

func TestDefaultResultFormatsNeverOverridesExplicitChoice(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	fields := []pgproto3.FieldDescription{{DataTypeOID: OIDInt4}}
	explicit := []int16{0}
	out := c.defaultResultFormats(explicit, fields)
	require.Equal(t, []int16{0}, out)
}

func TestDefaultResultFormatsNoFieldsReturnsInput(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	require.Nil(t, c.defaultResultFormats(nil, nil))
}

func TestDefaultParamFormatsFillsFromParamOIDs(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	out := c.defaultParamFormats(nil, []uint32{OIDInt4, OIDNumeric, 25})
	require.Equal(t, []int16{1, 0, 0}, out)
}

func TestDefaultParamFormatsNeverOverridesExplicitChoice(t *testing.T) {
	c := newBinaryFormatConn(&Config{BinaryTransfer: true})
	explicit := []int16{1}
	out := c.defaultParamFormats(explicit, []uint32{OIDInt4})
	require.Equal(t, explicit, out)
}
