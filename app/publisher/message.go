package publisher

import (
	"strings"
	"unicode"

	"github.com/lysyi3m/content-comb/app/database"
)

const maxDescriptionRunes = 500

// ComposeMessage builds the post text for a content record: title,
// description, hashtags and link, separated by blank lines.
func ComposeMessage(rec *database.ContentRecord) string {
	var parts []string

	if title := strings.TrimSpace(rec.Title); title != "" {
		parts = append(parts, title)
	}
	if desc := truncateRunes(strings.TrimSpace(rec.Description), maxDescriptionRunes); desc != "" {
		parts = append(parts, desc)
	}
	if tags := hashtags(rec.Tags); tags != "" {
		parts = append(parts, tags)
	}
	if rec.URL != "" && rec.MediaURL != "" {
		parts = append(parts, rec.URL)
	}

	return strings.Join(parts, "\n\n")
}

// PostFor turns a record into a post keyed by the record id.
func PostFor(rec *database.ContentRecord) Post {
	post := Post{
		Message:        ComposeMessage(rec),
		MediaURL:       rec.MediaURL,
		IdempotencyKey: rec.ID,
	}
	if rec.MediaURL == "" {
		post.Link = rec.URL
	}
	return post
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), unicode.IsSpace) + "…"
}

func hashtags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				return r
			}
			return -1
		}, tag)
		if cleaned == "" {
			continue
		}
		key := strings.ToLower(cleaned)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, "#"+cleaned)
	}
	return strings.Join(out, " ")
}
