package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"
)

var (
	documentPattern = regexp.MustCompile(`(?i)<(html|body)[\s>]`)
	markupPattern   = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// NormalizeDescription turns a raw description body into plain NFC text.
// Full HTML documents go through readability, fragments through goquery and
// plain text is only trimmed.
func NormalizeDescription(raw string) string {
	body := strings.TrimSpace(raw)
	if body == "" {
		return ""
	}

	switch {
	case documentPattern.MatchString(body):
		if text := documentText(body); text != "" {
			body = tidy(text)
		} else {
			body = tidy(fragmentText(body))
		}
	case markupPattern.MatchString(body):
		body = tidy(fragmentText(body))
	}

	return norm.NFC.String(body)
}

func documentText(html string) string {
	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func fragmentText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc.Text()
}

func tidy(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
