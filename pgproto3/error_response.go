package pgproto3

import "bytes"

// ErrorResponse fields, one byte each, as laid out on the wire before
// the NUL-terminated field value.
const (
	ErrorFieldSeverity         = 'S'
	ErrorFieldSeverityUnlocalized = 'V'
	ErrorFieldCode             = 'C'
	ErrorFieldMessage          = 'M'
	ErrorFieldMessageDetail    = 'D'
	ErrorFieldMessageHint      = 'H'
	ErrorFieldPosition         = 'P'
	ErrorFieldInternalPosition = 'p'
	ErrorFieldInternalQuery    = 'q'
	ErrorFieldWhere            = 'W'
	ErrorFieldSchemaName       = 's'
	ErrorFieldTableName        = 't'
	ErrorFieldColumnName       = 'c'
	ErrorFieldDataTypeName     = 'd'
	ErrorFieldConstraintName   = 'n'
	ErrorFieldFile             = 'F'
	ErrorFieldLine             = 'L'
	ErrorFieldRoutine          = 'R'
)

// ErrorResponse reports a statement-terminating error. Field codes not
// recognized by this module are preserved in UnknownFields.
type ErrorResponse struct {
	Severity            string
	SeverityUnlocalized string
	Code                string
	Message             string
	Detail              string
	Hint                string
	Position            int32
	InternalPosition    int32
	InternalQuery       string
	Where               string
	SchemaName          string
	TableName           string
	ColumnName          string
	DataTypeName        string
	ConstraintName      string
	File                string
	Line                int32
	Routine             string

	UnknownFields map[byte]string
}

func (*ErrorResponse) Backend() {}

func decodeErrorFields(dst *ErrorResponse, src []byte) error {
	*dst = ErrorResponse{}
	for len(src) > 1 {
		code := src[0]
		src = src[1:]
		i := bytes.IndexByte(src, 0)
		if i < 0 {
			return &invalidMessageFormatErr{messageType: "ErrorResponse"}
		}
		value := string(src[:i])
		src = src[i+1:]

		switch code {
		case ErrorFieldSeverity:
			dst.Severity = value
		case ErrorFieldSeverityUnlocalized:
			dst.SeverityUnlocalized = value
		case ErrorFieldCode:
			dst.Code = value
		case ErrorFieldMessage:
			dst.Message = value
		case ErrorFieldMessageDetail:
			dst.Detail = value
		case ErrorFieldMessageHint:
			dst.Hint = value
		case ErrorFieldPosition:
			dst.Position = parseErrInt32(value)
		case ErrorFieldInternalPosition:
			dst.InternalPosition = parseErrInt32(value)
		case ErrorFieldInternalQuery:
			dst.InternalQuery = value
		case ErrorFieldWhere:
			dst.Where = value
		case ErrorFieldSchemaName:
			dst.SchemaName = value
		case ErrorFieldTableName:
			dst.TableName = value
		case ErrorFieldColumnName:
			dst.ColumnName = value
		case ErrorFieldDataTypeName:
			dst.DataTypeName = value
		case ErrorFieldConstraintName:
			dst.ConstraintName = value
		case ErrorFieldFile:
			dst.File = value
		case ErrorFieldLine:
			dst.Line = parseErrInt32(value)
		case ErrorFieldRoutine:
			dst.Routine = value
		default:
			if dst.UnknownFields == nil {
				dst.UnknownFields = make(map[byte]string)
			}
			dst.UnknownFields[code] = value
		}
	}
	return nil
}

func parseErrInt32(s string) int32 {
	var n int32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int32(c-'0')
	}
	return n
}

func encodeErrorFields(dst []byte, src *ErrorResponse) []byte {
	writeField := func(code byte, value string) {
		if value == "" {
			return
		}
		dst = append(dst, code)
		dst = append(dst, value...)
		dst = append(dst, 0)
	}

	writeField(ErrorFieldSeverity, src.Severity)
	writeField(ErrorFieldSeverityUnlocalized, src.SeverityUnlocalized)
	writeField(ErrorFieldCode, src.Code)
	writeField(ErrorFieldMessage, src.Message)
	writeField(ErrorFieldMessageDetail, src.Detail)
	writeField(ErrorFieldMessageHint, src.Hint)
	if src.Position != 0 {
		writeField(ErrorFieldPosition, itoaErr(src.Position))
	}
	if src.InternalPosition != 0 {
		writeField(ErrorFieldInternalPosition, itoaErr(src.InternalPosition))
	}
	writeField(ErrorFieldInternalQuery, src.InternalQuery)
	writeField(ErrorFieldWhere, src.Where)
	writeField(ErrorFieldSchemaName, src.SchemaName)
	writeField(ErrorFieldTableName, src.TableName)
	writeField(ErrorFieldColumnName, src.ColumnName)
	writeField(ErrorFieldDataTypeName, src.DataTypeName)
	writeField(ErrorFieldConstraintName, src.ConstraintName)
	writeField(ErrorFieldFile, src.File)
	if src.Line != 0 {
		writeField(ErrorFieldLine, itoaErr(src.Line))
	}
	writeField(ErrorFieldRoutine, src.Routine)

	for code, value := range src.UnknownFields {
		dst = append(dst, code)
		dst = append(dst, value...)
		dst = append(dst, 0)
	}

	dst = append(dst, 0)
	return dst
}

func itoaErr(n int32) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (dst *ErrorResponse) Decode(src []byte) error {
	return decodeErrorFields(dst, src)
}

func (src *ErrorResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'E')
	dst = encodeErrorFields(dst, src)
	return finishMessage(dst, sp)
}
