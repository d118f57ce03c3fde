package pgwire

import "github.com/oxleaf/pgwire/pgproto3"

// Well-known PostgreSQL type Oids this module needs to name directly,
// grounded on pgtype's own well-known Oid block.
const (
	OIDBytea            = 17
	OIDByteaArray       = 1001
	OIDInt2             = 21
	OIDInt2Array        = 1005
	OIDInt4             = 23
	OIDInt4Array        = 1007
	OIDInt8             = 20
	OIDInt8Array        = 1016
	OIDFloat4           = 700
	OIDFloat4Array      = 1021
	OIDFloat8           = 701
	OIDFloat8Array      = 1022
	OIDNumeric          = 1700
	OIDNumericArray     = 1231
	OIDDate             = 1082
	OIDDateArray        = 1182
	OIDTime             = 1083
	OIDTimeArray        = 1183
	OIDTimetz           = 1266
	OIDTimetzArray      = 1270
	OIDTimestamp        = 1114
	OIDTimestampArray   = 1115
	OIDTimestamptz      = 1184
	OIDTimestamptzArray = 1185
	OIDPoint            = 600
	OIDPointArray       = 1017
	OIDBox              = 603
	OIDBoxArray         = 1020
	OIDUUID             = 2950
	OIDUUIDArray        = 2951
)

// defaultBinaryReceiveOIDs is the set of Oids Conn requests in binary
// format for results (Bind's ResultFormatCodes) by default.
var defaultBinaryReceiveOIDs = []uint32{
	OIDBytea, OIDByteaArray,
	OIDInt2, OIDInt2Array,
	OIDInt4, OIDInt4Array,
	OIDInt8, OIDInt8Array,
	OIDFloat4, OIDFloat4Array,
	OIDFloat8, OIDFloat8Array,
	OIDNumeric, OIDNumericArray,
	OIDDate, OIDDateArray,
	OIDTime, OIDTimeArray,
	OIDTimetz, OIDTimetzArray,
	OIDTimestamp, OIDTimestampArray,
	OIDTimestamptz, OIDTimestamptzArray,
	OIDPoint, OIDPointArray,
	OIDBox, OIDBoxArray,
	OIDUUID, OIDUUIDArray,
}

// defaultBinarySendOIDs mirrors defaultBinaryReceiveOIDs except for
// Numeric, whose binary parameter encoding has historically been left
// disabled across client drivers while binary decoding of Numeric
// results stays enabled; BinaryTransferEnable can still force it on.
var defaultBinarySendOIDs = func() []uint32 {
	oids := make([]uint32, 0, len(defaultBinaryReceiveOIDs))
	for _, oid := range defaultBinaryReceiveOIDs {
		if oid == OIDNumeric || oid == OIDNumericArray {
			continue
		}
		oids = append(oids, oid)
	}
	return oids
}()

// binaryOIDSet holds the two, independently adjustable, binary-format
// Oid sets a Conn consults before defaulting a Bind's format codes.
type binaryOIDSet struct {
	enabled bool
	receive map[uint32]bool
	send    map[uint32]bool
}

func newBinaryOIDSet(cfg *Config) binaryOIDSet {
	set := binaryOIDSet{
		enabled: cfg.BinaryTransfer,
		receive: oidSliceToSet(defaultBinaryReceiveOIDs),
		send:    oidSliceToSet(defaultBinarySendOIDs),
	}
	for _, oid := range cfg.BinaryTransferEnable {
		set.receive[oid] = true
		set.send[oid] = true
	}
	for _, oid := range cfg.BinaryTransferDisable {
		delete(set.receive, oid)
		delete(set.send, oid)
	}
	return set
}

func oidSliceToSet(oids []uint32) map[uint32]bool {
	set := make(map[uint32]bool, len(oids))
	for _, oid := range oids {
		set[oid] = true
	}
	return set
}

// useBinaryForReceive reports whether a prepared statement's result
// column with this Oid should be requested in binary format.
func (c *Conn) useBinaryForReceive(oid uint32) bool {
	return c.binaryOIDs.enabled && c.binaryOIDs.receive[oid]
}

// useBinaryForSend reports whether a prepared statement's parameter
// with this Oid should be bound in binary format. Callers that opt
// into this must already encode the matching ParamValues entry as
// PostgreSQL's binary representation for the type, not text.
func (c *Conn) useBinaryForSend(oid uint32) bool {
	return c.binaryOIDs.enabled && c.binaryOIDs.send[oid]
}

// defaultResultFormats fills in ResultFormatCodes from fields' Oids
// when the caller passed resultFormats as nil, per the binary Oid
// policy. It never overrides an explicit caller choice.
func (c *Conn) defaultResultFormats(resultFormats []int16, fields []pgproto3.FieldDescription) []int16 {
	if resultFormats != nil || len(fields) == 0 {
		return resultFormats
	}
	out := make([]int16, len(fields))
	for i, f := range fields {
		if c.useBinaryForReceive(f.DataTypeOID) {
			out[i] = 1
		}
	}
	return out
}

// defaultParamFormats fills in ParameterFormatCodes from paramOIDs
// when the caller passed paramFormats as nil, per the binary Oid
// policy. It never overrides an explicit caller choice.
func (c *Conn) defaultParamFormats(paramFormats []int16, paramOIDs []uint32) []int16 {
	if paramFormats != nil || len(paramOIDs) == 0 {
		return paramFormats
	}
	out := make([]int16, len(paramOIDs))
	for i, oid := range paramOIDs {
		if c.useBinaryForSend(oid) {
			out[i] = 1
		}
	}
	return out
}
