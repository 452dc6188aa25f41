package collector

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[\s\x{00A0}]+`)
)

// ExtractRows returns the inner content of every occurrence of the given
// tag, e.g. ExtractRows(page, "tr") for a market listing table. Matching is
// case-insensitive and tolerates attributes on the opening tag.
func ExtractRows(page, tag string) []string {
	pattern := regexp.MustCompile(`(?is)<` + tag + `[^>]*>(.*?)</` + tag + `>`)

	matches := pattern.FindAllStringSubmatch(page, -1)
	rows := make([]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, m[1])
	}
	return rows
}

// StripTags removes markup from an HTML fragment, unescapes entities and
// collapses whitespace.
func StripTags(fragment string) string {
	text := tagPattern.ReplaceAllString(fragment, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractCells strips each table cell of a row into plain text, dropping
// empty cells.
func ExtractCells(row string) []string {
	cells := ExtractRows(row, "td")
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if text := StripTags(c); text != "" {
			out = append(out, text)
		}
	}
	return out
}
