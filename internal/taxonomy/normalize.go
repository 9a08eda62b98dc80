package taxonomy

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a raw classifier label to its canonical species key.
// Unknown labels map to their cleaned form. Empty and comment input yield
// "". Normalize is idempotent.
func (t *Taxonomy) Normalize(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" {
		return ""
	}
	if key, ok := t.aliases[cleaned]; ok {
		return key
	}
	return cleaned
}

// clean lower-cases, unifies separators, drops leading ordinal tokens and
// trailing disambiguation digits: "0 Roe_Deer07" becomes "roe deer".
func clean(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return ""
	}

	// cases.Caser is stateful, one per call
	s = cases.Lower(language.Und).String(norm.NFKC.String(s))
	s = strings.ReplaceAll(s, "_", " ")

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}

	// leading index tokens, keeping at least one field
	i := 0
	for i < len(fields)-1 && isDigits(fields[i]) {
		i++
	}
	fields = fields[i:]

	// trailing digit runs, never emptying the label
	for len(fields) > 0 {
		last := len(fields) - 1
		trimmed := strings.TrimRightFunc(fields[last], isSuffixRune)
		if trimmed != "" {
			fields[last] = trimmed
			break
		}
		if last == 0 {
			break
		}
		fields = fields[:last]
	}

	// a label that only becomes a comment after folding is still a comment
	out := strings.Join(fields, " ")
	if strings.HasPrefix(out, "#") {
		return ""
	}
	return out
}

func isSuffixRune(r rune) bool {
	return unicode.IsDigit(r) || r == '-' || r == '.'
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
