package sharding

import (
	"regexp"
	"strings"
)

var validPostgresIdent = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// quoteIdentifier quotes an identifier that the derived SQL would otherwise
// misread: reserved words, and on PostgreSQL anything that is not a plain
// lower-case name.
func quoteIdentifier(engine DatabaseEngine, ident string) string {
	if ident == "" || ident == "*" || isQuoted(ident) {
		return ident
	}
	if IsReservedKeyword(ident) {
		return quote(engine, ident)
	}
	// SQL identifiers and key words must begin with a letter or an
	// underscore. Subsequent characters can be letters, underscores, digits
	// or dollar signs.
	//
	// https://www.postgresql.org/docs/current/sql-syntax-lexical.html#SQL-SYNTAX-IDENTIFIERS
	if engine == EnginePostgreSQL || engine == EngineUnknown {
		// camelCase means the column is also camelCase
		if strings.ToLower(ident) != ident {
			return quote(engine, ident)
		}
		if !validPostgresIdent.MatchString(ident) {
			return quote(engine, ident)
		}
	}
	return ident
}

func isQuoted(ident string) bool {
	if len(ident) < 2 {
		return false
	}
	first, last := ident[0], ident[len(ident)-1]
	return (first == '"' && last == '"') || (first == '`' && last == '`')
}

func quote(engine DatabaseEngine, x string) string {
	switch engine {
	case EngineMySQL:
		return "`" + strings.ReplaceAll(x, "`", "``") + "`"
	default:
		return "\"" + strings.ReplaceAll(x, "\"", "\"\"") + "\""
	}
}

// https://www.postgresql.org/docs/current/sql-keywords-appendix.html
var reservedKeywords = map[string]struct{}{
	"all": {}, "analyse": {}, "analyze": {}, "and": {}, "any": {}, "array": {}, "as": {}, "asc": {},
	"asymmetric": {}, "authorization": {}, "binary": {}, "both": {}, "case": {}, "cast": {}, "check": {},
	"collate": {}, "collation": {}, "column": {}, "concurrently": {}, "constraint": {}, "create": {},
	"cross": {}, "current_catalog": {}, "current_date": {}, "current_role": {}, "current_schema": {},
	"current_time": {}, "current_timestamp": {}, "current_user": {}, "default": {}, "deferrable": {},
	"desc": {}, "distinct": {}, "do": {}, "else": {}, "end": {}, "except": {}, "false": {}, "fetch": {},
	"for": {}, "foreign": {}, "freeze": {}, "from": {}, "full": {}, "grant": {}, "group": {}, "having": {},
	"ilike": {}, "in": {}, "initially": {}, "inner": {}, "intersect": {}, "into": {}, "is": {}, "isnull": {},
	"join": {}, "lateral": {}, "leading": {}, "left": {}, "like": {}, "limit": {}, "localtime": {},
	"localtimestamp": {}, "natural": {}, "not": {}, "notnull": {}, "null": {}, "offset": {}, "on": {},
	"only": {}, "or": {}, "order": {}, "outer": {}, "overlaps": {}, "placing": {}, "primary": {},
	"references": {}, "returning": {}, "right": {}, "select": {}, "session_user": {}, "similar": {},
	"some": {}, "symmetric": {}, "table": {}, "tablesample": {}, "then": {}, "to": {}, "trailing": {},
	"true": {}, "union": {}, "unique": {}, "user": {}, "using": {}, "variadic": {}, "verbose": {},
	"when": {}, "where": {}, "window": {}, "with": {},
}

// IsReservedKeyword reports PostgreSQL reserved key words.
func IsReservedKeyword(str string) bool {
	_, ok := reservedKeywords[strings.ToLower(str)]
	return ok
}
