package pgwire

import (
	"regexp"
	"strconv"
	"strings"
)

// singleRowInsertRegexp recognizes a single-row "INSERT INTO ... VALUES
// (...)[ RETURNING ...]" statement so a run of identical such items can
// be coalesced into one multi-row INSERT. It deliberately doesn't
// attempt to parse general SQL: a statement it doesn't recognize is
// left unrewritten rather than mishandled.
var singleRowInsertRegexp = regexp.MustCompile(`(?is)^(\s*INSERT\s+INTO\s+.+?\bVALUES\s*)\(([^()]*)\)\s*(RETURNING\b.*)?$`)

var placeholderRegexp = regexp.MustCompile(`\$(\d+)`)

// coalesceInserts rewrites a run of batch items that all insert one row
// via the same parameterized SQL text into a single multi-row INSERT,
// per Config.ReWriteBatchedInserts and spec §4.4's "Auto-save"-adjacent
// "Batch execution" rewrite. It reports ok=false for anything it
// doesn't recognize as safely coalescable: mixed SQL text, a statement
// that isn't a single-VALUES-tuple INSERT, or fewer than two items
// (nothing to gain by rewriting one row).
func coalesceInserts(items []BatchItem) (rewritten BatchItem, returning bool, ok bool) {
	if len(items) < 2 {
		return BatchItem{}, false, false
	}

	m := singleRowInsertRegexp.FindStringSubmatch(items[0].SQL)
	if m == nil {
		return BatchItem{}, false, false
	}
	prefix, tuple, returningClause := m[1], m[2], m[3]

	nParams := len(items[0].ParamValues)
	if nParams == 0 {
		return BatchItem{}, false, false
	}

	var sql strings.Builder
	sql.WriteString(prefix)

	values := make([][]byte, 0, nParams*len(items))
	var formats []int16
	if len(items[0].ParamFormats) > 0 {
		formats = make([]int16, 0, nParams*len(items))
	}

	for i, item := range items {
		if item.SQL != items[0].SQL || len(item.ParamValues) != nParams {
			return BatchItem{}, false, false
		}
		if i > 0 {
			sql.WriteString(", ")
		}
		sql.WriteByte('(')
		sql.WriteString(renumberPlaceholders(tuple, i*nParams))
		sql.WriteByte(')')

		values = append(values, item.ParamValues...)
		if formats != nil {
			formats = append(formats, item.ParamFormats...)
		}
	}

	if returningClause != "" {
		sql.WriteString(" ")
		sql.WriteString(returningClause)
	}

	return BatchItem{SQL: sql.String(), ParamValues: values, ParamFormats: formats}, returningClause != "", true
}

// renumberPlaceholders shifts every "$n" in tuple up by offset, so the
// second, third, ... value tuples of a coalesced INSERT reference their
// own slice of the combined parameter list instead of colliding with
// the first tuple's $1..$n.
func renumberPlaceholders(tuple string, offset int) string {
	if offset == 0 {
		return tuple
	}
	return placeholderRegexp.ReplaceAllStringFunc(tuple, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil {
			return m
		}
		return "$" + strconv.Itoa(n+offset)
	})
}
