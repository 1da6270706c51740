package similarity

import (
	"regexp"
	"strings"
)

var (
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentPattern  = regexp.MustCompile(`(?m)(#|//).*$`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
	tokenPattern        = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\d+(?:\.\d+)?|"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'|\S`)
)

// Normalize strips comments and collapses whitespace so formatting edits do not affect similarity.
func Normalize(source string) string {
	stripped := blockCommentPattern.ReplaceAllString(source, " ")
	stripped = lineCommentPattern.ReplaceAllString(stripped, "")
	stripped = whitespacePattern.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

// Tokenize splits normalized source into identifiers, numbers, string literals and single symbols.
func Tokenize(normalized string) []string {
	return tokenPattern.FindAllString(normalized, -1)
}

// Shape maps tokens to their structural class so renamed identifiers and changed literals still match.
func Shape(tokens []string) []string {
	shapes := make([]string, len(tokens))
	for i, token := range tokens {
		shapes[i] = tokenShape(token)
	}
	return shapes
}

func tokenShape(token string) string {
	if token == "" {
		return token
	}
	first := token[0]
	switch {
	case first == '"' || first == '\'':
		return "STR"
	case first >= '0' && first <= '9':
		return "NUM"
	case first == '_' || (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z'):
		if _, ok := keywords[token]; ok {
			return token
		}
		return "ID"
	default:
		return token
	}
}

var keywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`
		and as assert async await break case catch char class const continue def default del do double elif else
		enum except export extends false False final finally float for from func function go if import in int
		interface is lambda let long map new nil None nonlocal not null or package pass print private protected
		public raise range return select self static string struct super switch this throw true True try type
		var void while with yield input len println printf scanf cin cout std include`) {
		keywords[kw] = struct{}{}
	}
}
