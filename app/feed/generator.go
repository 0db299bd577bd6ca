package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/lysyi3m/content-comb/app/database"
)

// Channel describes the feed itself.
type Channel struct {
	Title       string
	Link        string
	SelfLink    string
	Description string
}

// Generator renders posted content as an RSS 2.0 document.
type Generator struct {
	version string
	now     func() time.Time
}

func NewGenerator(version string) *Generator {
	return &Generator{version: version, now: time.Now}
}

func (g *Generator) Run(channel Channel, records []database.ContentRecord) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(channel.Title, "Content Comb"), 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Recently published content"), 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := g.now().In(time.Local)
	if len(records) > 0 {
		lastBuildDate = publishedAt(records[0])
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Content-Comb/%s", g.version), 4)

	for _, rec := range records {
		g.writeItem(&buf, rec)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, rec database.ContentRecord) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(rec.ID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", rec.Title, 6)
	g.writeElement(buf, "link", rec.URL, 6)
	g.writeElement(buf, "description", cmp.Or(rec.Description, "No description available"), 6)
	g.writeElement(buf, "pubDate", publishedAt(rec).Format(time.RFC1123Z), 6)
	g.writeElement(buf, "author", rec.Author, 6)

	for _, tag := range rec.Tags {
		g.writeElement(buf, "category", tag, 6)
	}
	g.writeElement(buf, "source", rec.SourceName, 6)

	// RSS 2.0 requires url, length and type on enclosures; length is unknown.
	if rec.MediaURL != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"0\" type=\"%s\" />\n",
			html.EscapeString(rec.MediaURL),
			html.EscapeString(mediaType(rec.MediaURL))))
	}

	buf.WriteString("    </item>\n")
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

func publishedAt(rec database.ContentRecord) time.Time {
	if rec.PostedAt != nil {
		return *rec.PostedAt
	}
	return rec.CreatedAt
}

func mediaType(mediaURL string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(mediaURL, "?", 2)[0]))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
