package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// cleanText removes control characters and collapses whitespace.
func cleanText(text string) string {
	if text == "" {
		return ""
	}
	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")
	return strings.TrimSpace(b)
}

// htmlToText extracts headings, paragraphs, list items and tables from an
// indexed HTML chunk. Plain text passes through unchanged.
func htmlToText(raw string) string {
	if !strings.Contains(raw, "<") {
		return cleanText(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return cleanText(raw)
	}
	var out []string
	doc.Find("h1,h2,h3,h4,p,li,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4":
			out = append(out, "## "+text)
		case "li":
			out = append(out, "- "+text)
		case "table":
			out = append(out, tableText(s))
		default:
			out = append(out, text)
		}
	})
	if len(out) == 0 {
		return cleanText(doc.Text())
	}
	return cleanText(strings.Join(out, "\n\n"))
}

func tableText(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}
