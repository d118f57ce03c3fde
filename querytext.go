package pgwire

import (
	"regexp"
	"strconv"
	"strings"
)

// StatementKind classifies a SubQuery by its leading keyword.
type StatementKind string

const (
	StatementSelect StatementKind = "SELECT"
	StatementInsert StatementKind = "INSERT"
	StatementUpdate StatementKind = "UPDATE"
	StatementDelete StatementKind = "DELETE"
	StatementMerge  StatementKind = "MERGE"
	StatementDDL    StatementKind = "DDL"
	StatementOther  StatementKind = "OTHER"
)

// SubQuery is one ';'-delimited statement decomposed out of a client
// SQL string by SplitStatements, with its '?' placeholders already
// rewritten to positional "$n" parameters.
type SubQuery struct {
	SQL          string
	ParamCount   int
	Kind         StatementKind
	HasReturning bool
}

// SplitStatements decomposes sql into its top-level ';'-delimited
// SubQueries, rewriting each one's '?' placeholders to "$1".."$n" as
// it goes (SQL that already uses native "$n" parameters passes
// through unchanged). A ';' or '?' inside a string literal, a quoted
// identifier, a dollar-quoted body, or a comment never splits or
// rewrites.
func SplitStatements(sql string) []SubQuery {
	l := &statementLexer{src: sql, stateFn: statementRawState}
	for l.stateFn != nil {
		l.stateFn = l.stateFn(l)
	}
	l.flush()
	return l.subqueries
}

type statementLexer struct {
	src        string
	pos        int
	start      int
	stateFn    statementStateFn
	buf        strings.Builder
	paramCount int
	subqueries []SubQuery
	dollarTag  string
}

type statementStateFn func(*statementLexer) statementStateFn

// emitRaw copies src[start:upto] verbatim into buf and advances start
// past it.
func (l *statementLexer) emitRaw(upto int) {
	if upto > l.start {
		l.buf.WriteString(l.src[l.start:upto])
	}
	l.start = upto
}

func (l *statementLexer) flush() {
	l.emitRaw(l.pos)
	l.finishStatement()
}

func (l *statementLexer) finishStatement() {
	sql := strings.TrimSpace(l.buf.String())
	if sql != "" {
		l.subqueries = append(l.subqueries, SubQuery{
			SQL:          sql,
			ParamCount:   l.paramCount,
			Kind:         classifyStatement(sql),
			HasReturning: hasReturningClause(sql),
		})
	}
	l.buf.Reset()
	l.paramCount = 0
}

func statementRawState(l *statementLexer) statementStateFn {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\'':
			l.pos++
			return statementSingleQuoteState
		case '"':
			l.pos++
			return statementDoubleQuoteState
		case '-':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '-' {
				l.pos += 2
				return statementLineCommentState
			}
			l.pos++
		case '/':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '*' {
				l.pos += 2
				return statementBlockCommentState
			}
			l.pos++
		case '$':
			if tag, end, ok := matchDollarTag(l.src, l.pos); ok {
				l.dollarTag = tag
				l.pos = end
				return statementDollarQuoteState
			}
			l.pos++
		case '?':
			// jsonb/hstore operators (??, ?|, ?&, ?-) are never client
			// placeholders; leave them untouched.
			if l.pos+1 < len(l.src) {
				switch l.src[l.pos+1] {
				case '?', '|', '&', '-':
					l.pos += 2
					continue
				}
			}
			l.emitRaw(l.pos)
			l.pos++
			l.start = l.pos
			l.paramCount++
			l.buf.WriteByte('$')
			l.buf.WriteString(strconv.Itoa(l.paramCount))
		case ';':
			l.emitRaw(l.pos)
			l.pos++
			l.start = l.pos
			l.finishStatement()
		default:
			l.pos++
		}
	}
	l.emitRaw(l.pos)
	return nil
}

func statementSingleQuoteState(l *statementLexer) statementStateFn {
	for l.pos < len(l.src) {
		if l.src[l.pos] != '\'' {
			l.pos++
			continue
		}
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '\'' {
			l.pos++
			continue
		}
		return statementRawState
	}
	return nil
}

func statementDoubleQuoteState(l *statementLexer) statementStateFn {
	for l.pos < len(l.src) {
		if l.src[l.pos] != '"' {
			l.pos++
			continue
		}
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '"' {
			l.pos++
			continue
		}
		return statementRawState
	}
	return nil
}

func statementLineCommentState(l *statementLexer) statementStateFn {
	idx := strings.IndexByte(l.src[l.pos:], '\n')
	if idx < 0 {
		l.pos = len(l.src)
		return nil
	}
	l.pos += idx + 1
	return statementRawState
}

func statementBlockCommentState(l *statementLexer) statementStateFn {
	depth := 1
	for l.pos < len(l.src) && depth > 0 {
		switch {
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			depth++
			l.pos += 2
		case strings.HasPrefix(l.src[l.pos:], "*/"):
			depth--
			l.pos += 2
		default:
			l.pos++
		}
	}
	return statementRawState
}

func statementDollarQuoteState(l *statementLexer) statementStateFn {
	closing := "$" + l.dollarTag + "$"
	idx := strings.Index(l.src[l.pos:], closing)
	if idx < 0 {
		l.pos = len(l.src)
		return nil
	}
	l.pos += idx + len(closing)
	return statementRawState
}

// matchDollarTag reports whether src[pos:] opens a dollar-quoted
// string ("$$" or "$tag$") and, if so, the tag and the position just
// past the opening delimiter.
func matchDollarTag(src string, pos int) (tag string, end int, ok bool) {
	i := pos + 1
	start := i
	for i < len(src) && isDollarTagRune(src[i]) {
		i++
	}
	if i >= len(src) || src[i] != '$' {
		return "", 0, false
	}
	return src[start:i], i + 1, true
}

func isDollarTagRune(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var statementLeadingWordRegexp = regexp.MustCompile(`(?is)^\s*(SELECT|INSERT|UPDATE|DELETE|MERGE|WITH|CREATE|ALTER|DROP|TRUNCATE|COMMENT|GRANT|REVOKE)\b`)

// classifyStatement reports sql's statement kind by its leading
// keyword, the same conservative leading-word approach
// session.go's dmlLeadingWord uses for autosave: a WITH-prefixed CTE
// is classified as SELECT even when it wraps a DML statement, since
// that's the common case and getting it wrong only costs a missed
// optimization, never correctness.
func classifyStatement(sql string) StatementKind {
	m := statementLeadingWordRegexp.FindStringSubmatch(sql)
	if m == nil {
		return StatementOther
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT", "WITH":
		return StatementSelect
	case "INSERT":
		return StatementInsert
	case "UPDATE":
		return StatementUpdate
	case "DELETE":
		return StatementDelete
	case "MERGE":
		return StatementMerge
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "COMMENT", "GRANT", "REVOKE":
		return StatementDDL
	default:
		return StatementOther
	}
}

var returningClauseRegexp = regexp.MustCompile(`(?is)\bRETURNING\b`)

func hasReturningClause(sql string) bool {
	return returningClauseRegexp.MatchString(sql)
}

// appendReturning appends a RETURNING clause to sql for
// Returning-generated-keys, unless sql already carries one. columns
// names the columns to return, or nil for RETURNING *.
func appendReturning(sql string, columns []string) string {
	if hasReturningClause(sql) {
		return sql
	}
	sql = strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
	if len(columns) == 0 {
		return sql + " RETURNING *"
	}
	return sql + " RETURNING " + strings.Join(columns, ", ")
}

// willHealOnRetry reports whether sql is safe to silently re-run after
// flushStatementCache recovers from a cached-plan invalidation: a
// lone SELECT has no side effects, so repeating it is always safe.
// Anything else (DML, multiple statements) is left to the caller.
func willHealOnRetry(sql string) bool {
	subs := SplitStatements(sql)
	return len(subs) == 1 && subs[0].Kind == StatementSelect
}
