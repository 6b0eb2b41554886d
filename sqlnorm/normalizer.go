// Package sqlnorm canonicalizes SQL statements for template matching: it
// parses with the PostgreSQL grammar, replaces literals with numbered
// placeholders, and exposes the structural facts the safety layer needs.
package sqlnorm

import (
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v2"
)

// Result is the outcome of normalizing one SQL statement.
type Result struct {
	// Canonical is the lowercased, whitespace-collapsed statement with
	// literals replaced by $n placeholders. Used as the retrieval key.
	Canonical string
	// Constants holds the replaced literal values in placeholder order.
	Constants []string
	// Degraded is set when the statement did not parse and the regex
	// fallback produced the result instead.
	Degraded bool
}

var (
	placeholderRe = regexp.MustCompile(`^\$\d+$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	operatorRe    = regexp.MustCompile(`\s*([=<>!]+)\s*`)
)

// Normalize canonicalizes sql. Normalizing a Canonical result is a fixed
// point: pre-existing $n placeholders (bare or quoted) are preserved and
// never renumbered.
func Normalize(sql string) Result {
	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) == 0 {
		return fallbackNormalize(sql)
	}
	pretty, err := pg_query.Deparse(tree)
	if err != nil {
		return fallbackNormalize(sql)
	}
	parameterized, constants, ok := parameterize(pretty)
	if !ok {
		return fallbackNormalize(sql)
	}
	return Result{
		Canonical: canonicalText(parameterized),
		Constants: constants,
	}
}

type literal struct {
	loc      int
	end      int
	value    string
	isString bool
}

// parameterize re-parses the deparsed statement and rewrites every constant
// node to a placeholder, numbering left to right. Numbering continues after
// the highest pre-existing $n so existing placeholders keep their identity.
func parameterize(sql string) (string, []string, bool) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return "", nil, false
	}

	maxParam := 0
	var literals []literal
	for _, raw := range tree.Stmts {
		walkNodes(raw.GetStmt(), func(n *pg_query.Node) {
			if p := n.GetParamRef(); p != nil {
				if int(p.Number) > maxParam {
					maxParam = int(p.Number)
				}
				return
			}
			c := n.GetAConst()
			if c == nil {
				return
			}
			lit, ok := scanLiteral(sql, int(c.Location), c)
			if !ok {
				return
			}
			if lit.isString && placeholderRe.MatchString(lit.value) {
				// Already a quoted placeholder; leave untouched.
				return
			}
			literals = append(literals, lit)
		})
	}

	sort.Slice(literals, func(i, j int) bool { return literals[i].loc < literals[j].loc })

	constants := make([]string, 0, len(literals))
	out := sql
	for i := len(literals) - 1; i >= 0; i-- {
		lit := literals[i]
		n := maxParam + i + 1
		placeholder := "$" + itoa(n)
		if lit.isString {
			placeholder = "'" + placeholder + "'"
		}
		out = out[:lit.loc] + placeholder + out[lit.end:]
	}
	for _, lit := range literals {
		constants = append(constants, lit.value)
	}
	return out, constants, true
}

// scanLiteral determines the byte span of the constant starting at loc and
// its bare value. Constants other than strings and numbers are skipped.
func scanLiteral(sql string, loc int, c *pg_query.A_Const) (literal, bool) {
	if loc < 0 || loc >= len(sql) {
		return literal{}, false
	}
	val := c.GetVal()
	switch {
	case val.GetString_() != nil:
		if sql[loc] != '\'' {
			return literal{}, false
		}
		j := loc + 1
		for j < len(sql) {
			if sql[j] == '\'' {
				if j+1 < len(sql) && sql[j+1] == '\'' {
					j += 2
					continue
				}
				j++
				break
			}
			j++
		}
		return literal{loc: loc, end: j, value: val.GetString_().Str, isString: true}, true
	case val.GetInteger() != nil, val.GetFloat() != nil:
		j := loc
		for j < len(sql) && (isDigit(sql[j]) || sql[j] == '.') {
			j++
		}
		if j == loc {
			return literal{}, false
		}
		return literal{loc: loc, end: j, value: sql[loc:j], isString: false}, true
	default:
		return literal{}, false
	}
}

// fallbackNormalize is the regex path used when the statement does not parse.
// It walks the text once, replacing string and numeric literals while leaving
// $n placeholders (bare or quoted) alone.
func fallbackNormalize(sql string) Result {
	maxParam := 0
	scanTokens(sql, func(t token) {
		if t.kind == tokParam && t.number > maxParam {
			maxParam = t.number
		}
	})

	var (
		b         strings.Builder
		constants []string
		counter   = maxParam
		last      = 0
	)
	scanTokens(sql, func(t token) {
		b.WriteString(sql[last:t.start])
		last = t.end
		switch t.kind {
		case tokParam:
			b.WriteString(sql[t.start:t.end])
		case tokString:
			if placeholderRe.MatchString(t.value) {
				b.WriteString(sql[t.start:t.end])
				return
			}
			counter++
			constants = append(constants, t.value)
			b.WriteString("'$" + itoa(counter) + "'")
		case tokNumber:
			counter++
			constants = append(constants, t.value)
			b.WriteString("$" + itoa(counter))
		}
	})
	b.WriteString(sql[last:])

	return Result{
		Canonical: canonicalText(b.String()),
		Constants: constants,
		Degraded:  true,
	}
}

type tokenKind int

const (
	tokString tokenKind = iota
	tokNumber
	tokParam
)

type token struct {
	kind   tokenKind
	start  int
	end    int
	value  string
	number int
}

// scanTokens emits string literals, bare numbers, and $n placeholders in
// left-to-right order. Numbers touching an identifier are not emitted.
func scanTokens(sql string, emit func(token)) {
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'':
			j := i + 1
			var val strings.Builder
			for j < len(sql) {
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						val.WriteByte('\'')
						j += 2
						continue
					}
					j++
					break
				}
				val.WriteByte(sql[j])
				j++
			}
			emit(token{kind: tokString, start: i, end: j, value: val.String()})
			i = j
		case ch == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			n := 0
			for j < len(sql) && isDigit(sql[j]) {
				n = n*10 + int(sql[j]-'0')
				j++
			}
			emit(token{kind: tokParam, start: i, end: j, number: n})
			i = j
		case isDigit(ch) && !isIdentByte(prevByte(sql, i)):
			j := i
			for j < len(sql) && (isDigit(sql[j]) || sql[j] == '.') {
				j++
			}
			emit(token{kind: tokNumber, start: i, end: j, value: sql[i:j]})
			i = j
		case isIdentByte(ch):
			j := i
			for j < len(sql) && isIdentByte(sql[j]) {
				j++
			}
			i = j
		default:
			i++
		}
	}
}

// canonicalText applies the textual half of canonicalization: lowercase,
// collapse whitespace, normalize spacing around comparison operators, and
// strip the trailing semicolon.
func canonicalText(sql string) string {
	s := strings.ToLower(sql)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = operatorRe.ReplaceAllString(s, " $1 ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || isDigit(b) ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func prevByte(s string, i int) byte {
	if i == 0 {
		return 0
	}
	return s[i-1]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
