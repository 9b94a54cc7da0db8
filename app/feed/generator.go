package feed

import (
	"bytes"
	"cmp"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/database"
)

// Generator renders the matches of a rule as an RSS 2.0 feed.
type Generator struct {
	baseURL string
	version string
}

// NewGenerator builds self links from baseURL, falling back to localhost on
// port when no public URL is configured.
func NewGenerator(baseURL, port, version string) *Generator {
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}
	return &Generator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: version,
	}
}

func (g *Generator) Run(rule database.Rule, matches []database.MatchView) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", fmt.Sprintf("SAMWatch: %s", rule.Name), 4)
	g.writeElement(&buf, "link", "https://sam.gov/search/?index=opp", 4)
	description := cmp.Or(rule.Description, fmt.Sprintf("Opportunities matched by rule %s", rule.Name))
	g.writeElement(&buf, "description", description, 4)

	selfLink := fmt.Sprintf("%s/feeds/rules/%d", g.baseURL, rule.ID)
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	lastBuildDate := rule.UpdatedAt
	if len(matches) > 0 {
		lastBuildDate = slices.MaxFunc(matches, func(a, b database.MatchView) int {
			return a.MatchedAt.Compare(b.MatchedAt)
		}).MatchedAt
	}
	if lastBuildDate.IsZero() {
		lastBuildDate = time.Now()
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.In(time.Local).Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("SAMWatch/%s", g.version), 4)

	for _, m := range matches {
		g.writeItem(&buf, m)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, m database.MatchView) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(m.NoticeID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", cmp.Or(m.Title, m.NoticeID), 6)
	g.writeElement(buf, "link", alerts.ViewURL(m.NoticeID), 6)
	g.writeElement(buf, "description", itemDescription(m), 6)
	g.writeElement(buf, "pubDate", m.FirstMatchedAt.In(time.Local).Format(time.RFC1123Z), 6)
	g.writeElement(buf, "category", m.Agency, 6)

	buf.WriteString("    </item>\n")
}

func itemDescription(m database.MatchView) string {
	var lines []string
	if m.Agency != "" {
		lines = append(lines, "Agency: "+m.Agency)
	}
	if m.PostedAt != "" {
		lines = append(lines, "Posted: "+m.PostedAt)
	}
	lines = append(lines, "Notice ID: "+m.NoticeID)
	if len(m.Payload) > 0 {
		if payload, err := json.Marshal(m.Payload); err == nil {
			lines = append(lines, "Details: "+string(payload))
		}
	}
	return strings.Join(lines, "\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
