package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN-1; longer names are truncated by the server.
const MaxIdentifierLength = 63

// SanitizeColumnName turns one raw header token into a store identifier.
//
// Accents are folded to their base letter, anything outside [A-Za-z0-9_]
// becomes '_', a leading digit gets a "C_" prefix and the result is
// upper-cased. pos is the zero-based header position, used to name
// tokens that are empty.
func SanitizeColumnName(raw string, pos int) string {
	folded, _, err := transform.String(foldAccents(), strings.TrimSpace(raw))
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name == "" {
		name = "COLUMN_" + strconv.Itoa(pos+1)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "C_" + name
	}
	if len(name) > MaxIdentifierLength {
		name = name[:MaxIdentifierLength]
	}
	return name
}

// SanitizeHeader sanitizes every header token and disambiguates collisions
// by suffixing later occurrences with _2, _3, …. The same input always
// yields the same output.
func SanitizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, token := range raw {
		name := SanitizeColumnName(token, i)
		if seen[name] {
			name = uniqueName(name, seen)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

func uniqueName(base string, seen map[string]bool) string {
	for n := 2; ; n++ {
		suffix := fmt.Sprintf("_%d", n)
		stem := base
		if len(stem)+len(suffix) > MaxIdentifierLength {
			stem = stem[:MaxIdentifierLength-len(suffix)]
		}
		if candidate := stem + suffix; !seen[candidate] {
			return candidate
		}
	}
}

// foldAccents decomposes runes and drops combining marks: "Café" → "Cafe".
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
