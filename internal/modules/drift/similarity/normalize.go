package similarity

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokens splits a field name on separators and camelCase boundaries and
// folds each token to lower-case ASCII where possible.
//   - "AnnualRevenue"   -> [annual revenue]
//   - "revenue_annual"  -> [revenue annual]
//   - "Région.Code"     -> [region code]
func Tokens(s string) []string {
	s = stripDiacritics(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	var (
		tokens  []string
		current strings.Builder
	)
	runes := []rune(s)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	for i, r := range runes {
		if isSeparator(r) {
			flush()
			continue
		}
		if i > 0 && startsToken(runes, i) {
			flush()
		}
		current.WriteRune(r)
	}
	flush()
	return tokens
}

// Normalize joins the tokens without separators.
func Normalize(s string) string {
	return strings.Join(Tokens(s), "")
}

// NormalizeSorted joins the tokens in lexical order, so word order does not matter.
func NormalizeSorted(s string) string {
	toks := Tokens(s)
	sort.Strings(toks)
	return strings.Join(toks, "")
}

// NormalizeStripped drops one trailing token that carries no meaning for matching.
func NormalizeStripped(s string) string {
	toks := Tokens(s)
	if len(toks) > 1 {
		switch toks[len(toks)-1] {
		case "id", "ids", "at", "utc", "ts", "timestamp", "value", "field", "c":
			toks = toks[:len(toks)-1]
		}
	}
	return strings.Join(toks, "")
}

// Key is the stored identity of a learned name: sorted tokens joined by spaces.
func Key(s string) string {
	toks := Tokens(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == ' ' || r == '.' || r == '/' || r == ':'
}

func startsToken(runes []rune, i int) bool {
	r, prev := runes[i], runes[i-1]
	if isSeparator(prev) {
		return false
	}
	if unicode.IsUpper(r) && !unicode.IsUpper(prev) {
		return true
	}
	// End of an acronym: "HTTPStatus" splits before 'S'.
	if unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	// Letter/digit boundary: "address2" -> [address 2].
	if unicode.IsDigit(r) != unicode.IsDigit(prev) {
		return true
	}
	return false
}

func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
