package discovery

import (
	"fmt"
	"strings"
)

// RelevanceFilter keeps items mentioning at least one positive keyword and
// none of the negative ones. With no positive keywords every item passes the
// positive check.
type RelevanceFilter struct {
	positive []string
	negative []string
}

func NewRelevanceFilter(positive, negative []string) *RelevanceFilter {
	return &RelevanceFilter{
		positive: foldAll(positive),
		negative: foldAll(negative),
	}
}

func foldAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, fold(w))
		}
	}
	return out
}

func (f *RelevanceFilter) Relevant(item Item) bool {
	text := fold(item.Title + " " + item.Description)

	for _, neg := range f.negative {
		if strings.Contains(text, neg) {
			return false
		}
	}

	if len(f.positive) == 0 {
		return true
	}
	for _, pos := range f.positive {
		if strings.Contains(text, pos) {
			return true
		}
	}
	return false
}

// Check applies the keyword lists and then the per-source field filters. It
// returns the reason when the item is rejected.
func (f *RelevanceFilter) Check(item Item, filters []FieldFilter) (bool, string) {
	if !f.Relevant(item) {
		return false, "Not relevant to configured keywords"
	}

	for _, filter := range filters {
		value := fold(fieldValue(item, filter.Field))

		for _, exclude := range filter.Excludes {
			if strings.Contains(value, fold(exclude)) {
				return false, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if strings.Contains(value, fold(include)) {
					matched = true
					break
				}
			}
			if !matched {
				return false, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return true, ""
}

func fieldValue(item Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "description":
		return item.Description
	case "author":
		return item.Author
	case "url":
		return item.URL
	case "tags":
		return strings.Join(item.Tags, " ")
	default:
		return ""
	}
}

// FilterFields lists the item fields usable in source filters.
var FilterFields = map[string]bool{
	"title":       true,
	"description": true,
	"author":      true,
	"url":         true,
	"tags":        true,
}
