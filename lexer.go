package sharding

import (
	"fmt"
	"strconv"
	"strings"
)

type lexemeKind int

const (
	lexIdent lexemeKind = iota
	lexQuoted
	lexString
	lexNumber
	lexParam
	lexPunct
)

// lexeme is one token of SQL text at [start, stop). Whitespace and comments
// are dropped.
type lexeme struct {
	kind  lexemeKind
	start int
	stop  int
	// param is the zero based parameter index of a lexParam.
	param int
}

func (l lexeme) text(sql string) string { return sql[l.start:l.stop] }

// is reports whether the lexeme is the bare word kw, case-insensitively.
func (l lexeme) is(sql, kw string) bool {
	return l.kind == lexIdent && strings.EqualFold(l.text(sql), kw)
}

func (l lexeme) isPunct(sql string, c byte) bool {
	return l.kind == lexPunct && l.stop-l.start == 1 && sql[l.start] == c
}

// identSpan is the span of the identifier without its quotes.
func (l lexeme) identSpan() (int, int) {
	if l.kind == lexQuoted {
		return l.start + 1, l.stop - 1
	}
	return l.start, l.stop
}

// lexSQL splits sql into lexemes. '?' and '$n' become lexParam; mixing both
// styles is an error. MySQL strings honour backslash escapes.
func lexSQL(sql string, engine DatabaseEngine) ([]lexeme, ParamStyle, error) {
	var (
		out        []lexeme
		positional int
		numbered   bool
	)
	backslash := engine == EngineMySQL
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-', c == '#' && engine == EngineMySQL:
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += end + 4
		case c == '\'':
			stop, err := scanQuoted(sql, i, '\'', backslash)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, lexeme{kind: lexString, start: i, stop: stop})
			i = stop
		case c == '"' || c == '`':
			stop, err := scanQuoted(sql, i, c, false)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, lexeme{kind: lexQuoted, start: i, stop: stop})
			i = stop
		case c == '?':
			if i+1 < len(sql) && (sql[i+1] == '|' || sql[i+1] == '&') {
				out = append(out, lexeme{kind: lexPunct, start: i, stop: i + 2})
				i += 2
				continue
			}
			out = append(out, lexeme{kind: lexParam, start: i, stop: i + 1, param: positional})
			positional++
			i++
		case c == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			n, err := strconv.Atoi(sql[i+1 : j])
			if err != nil || n < 1 {
				return nil, 0, fmt.Errorf("invalid parameter %s at offset %d", sql[i:j], i)
			}
			out = append(out, lexeme{kind: lexParam, start: i, stop: j, param: n - 1})
			numbered = true
			i = j
		case c == '$':
			stop, ok := scanDollarQuoted(sql, i)
			if !ok {
				out = append(out, lexeme{kind: lexPunct, start: i, stop: i + 1})
				i++
				continue
			}
			out = append(out, lexeme{kind: lexString, start: i, stop: stop})
			i = stop
		case isDigit(c) || (c == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			j := i
			for j < len(sql) && (isDigit(sql[j]) || sql[j] == '.') {
				j++
			}
			if j < len(sql) && (sql[j] == 'e' || sql[j] == 'E') {
				k := j + 1
				if k < len(sql) && (sql[k] == '+' || sql[k] == '-') {
					k++
				}
				if k < len(sql) && isDigit(sql[k]) {
					for k < len(sql) && isDigit(sql[k]) {
						k++
					}
					j = k
				}
			}
			out = append(out, lexeme{kind: lexNumber, start: i, stop: j})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			out = append(out, lexeme{kind: lexIdent, start: i, stop: j})
			i = j
		default:
			out = append(out, lexeme{kind: lexPunct, start: i, stop: i + 1})
			i++
		}
	}
	if positional > 0 && numbered {
		return nil, 0, fmt.Errorf("%w: statement mixes '?' and '$n' parameters", ErrUnsupportedStatement)
	}
	style := ParamNumbered
	if positional > 0 {
		style = ParamPositional
	}
	return out, style, nil
}

func scanQuoted(sql string, start int, quote byte, backslash bool) (int, error) {
	i := start + 1
	for i < len(sql) {
		switch {
		case backslash && sql[i] == '\\':
			i += 2
		case sql[i] == quote:
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, fmt.Errorf("unterminated %c quote at offset %d", quote, start)
}

// scanDollarQuoted scans a PostgreSQL $tag$...$tag$ string.
func scanDollarQuoted(sql string, start int) (int, bool) {
	j := start + 1
	for j < len(sql) && sql[j] != '$' {
		if !isIdentPart(sql[j]) {
			return 0, false
		}
		j++
	}
	if j >= len(sql) {
		return 0, false
	}
	tag := sql[start : j+1]
	end := strings.Index(sql[j+1:], tag)
	if end < 0 {
		return 0, false
	}
	return j + 1 + end + len(tag), true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
