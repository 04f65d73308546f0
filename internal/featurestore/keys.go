package featurestore

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Namespace derives a key prefix from a query template so that results of
// different queries never share keys.
func Namespace(query string) string {
	return "q" + strconv.FormatUint(xxhash.Sum64String(collapseSpace(query)), 16)
}

func featureKey(ns, key string) string {
	return "feat:" + sanitize(ns) + ":" + strings.TrimSpace(key)
}

func cellKey(ns string, res int, cell string) string {
	return "cell:" + sanitize(ns) + ":" + strconv.Itoa(res) + ":" + cell
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || unicode.IsDigit(r)
}
