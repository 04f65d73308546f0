// Package overpass builds Overpass QL requests and talks to the interpreter endpoint.
package overpass

import (
	"regexp"
	"strings"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

const (
	DefaultEndpoint = "https://overpass-api.de/api/"
	DefaultQuery    = "(node({{bbox}})[organic];node({{bbox}})[second_hand];);out qt;"

	// BBoxPlaceholder is replaced by "south,west,north,east".
	BBoxPlaceholder = "{{bbox}}"

	interpreterPath = "interpreter"
	outputFormat    = "[out:json];"

	// dataSafe bytes are left as they are in the data parameter besides
	// letters and digits. ';' is escaped because Go servers reject it as a
	// query separator.
	dataSafe = "-_.~,()[]:=!*'/?@$"
)

var commentPattern = regexp.MustCompile(`//.*`)

// BuildQuery strips line comments from template and substitutes every bbox
// placeholder with the rectangle corners.
func BuildQuery(template string, bounds model.Rectangle) string {
	q := commentPattern.ReplaceAllString(template, "")
	return strings.ReplaceAll(q, BBoxPlaceholder, bounds.String())
}

// BuildURL appends the interpreter path and the query as the data parameter,
// asking for JSON output. The bbox and QL punctuation stay readable; spaces,
// quotes, separators and non-ASCII bytes are percent-encoded.
func BuildURL(endpoint, query string) string {
	return endpoint + interpreterPath + "?data=" + escapeData(outputFormat+query)
}

func escapeData(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			strings.IndexByte(dataSafe, c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// HasPlaceholder reports whether template can be bound to a viewport.
func HasPlaceholder(template string) bool {
	return strings.Contains(commentPattern.ReplaceAllString(template, ""), BBoxPlaceholder)
}
