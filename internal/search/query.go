package search

import (
	"strings"
	"unicode"
)

// BuildMatch renders a user query as an FTS5 MATCH expression. Bare tokens
// become quoted prefix terms joined by the implicit AND; double-quoted
// substrings stay literal phrases with no prefix expansion. Returns "" when
// nothing survives sanitization.
func BuildMatch(query string) string {
	var terms []string
	var cur strings.Builder
	inQuote := false

	flush := func(literal bool) {
		tok := strings.TrimSpace(cur.String())
		cur.Reset()
		if tok == "" {
			return
		}
		if literal {
			terms = append(terms, `"`+tok+`"`)
			return
		}
		if tok = sanitizeToken(tok); tok != "" {
			terms = append(terms, `"`+tok+`"*`)
		}
	}

	for _, r := range query {
		switch {
		case r == '"':
			flush(inQuote)
			inQuote = !inQuote
		case !inQuote && unicode.IsSpace(r):
			flush(false)
		default:
			cur.WriteRune(r)
		}
	}
	flush(inQuote)

	return strings.Join(terms, " ")
}

// sanitizeToken strips characters the FTS5 query grammar treats as syntax.
func sanitizeToken(tok string) string {
	var b strings.Builder
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
