package deparse

import (
	"strings"
)

// reservedKeywords are the words quote_identifier always quotes.
var reservedKeywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`
		all analyse analyze and any array as asc asymmetric authorization binary
		both case cast check collate collation column concurrently constraint
		create cross current_catalog current_date current_role current_schema
		current_time current_timestamp current_user default deferrable desc
		distinct do else end except false fetch for foreign freeze from full
		grant group having ilike in initially inner intersect into is isnull
		join lateral leading left like limit localtime localtimestamp natural
		not notnull null offset on only or order outer overlaps placing primary
		references returning right select session_user similar some symmetric
		table tablesample then to trailing true union unique user using
		variadic verbose when where window with
		between bigint bit boolean char character coalesce dec decimal exists
		extract float greatest grouping inout int integer interval least
		national nchar none nullif numeric out overlay position precision real
		row setof smallint substring time timestamp treat trim values varchar
		xmlattributes xmlconcat xmlelement xmlexists xmlforest xmlparse xmlpi
		xmlroot xmlserialize`) {
		reservedKeywords[kw] = struct{}{}
	}
}

func identNeedsQuotes(ident string) bool {
	if ident == "" {
		return true
	}
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '$'):
		default:
			return true
		}
	}
	_, reserved := reservedKeywords[ident]
	return reserved
}

// QuoteIdentifier quotes ident only when PostgreSQL would require it.
func QuoteIdentifier(ident string) string {
	if !identNeedsQuotes(ident) {
		return ident
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func QuoteQualifiedIdentifier(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteLiteral doubles quotes and backslashes and switches to the E'...'
// form when a backslash is present.
func QuoteLiteral(s string) string {
	var b strings.Builder
	if strings.ContainsRune(s, '\\') {
		b.WriteByte('E')
	}
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' || r == '\\' {
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
